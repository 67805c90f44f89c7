// ============================================================================
// schedctl Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集 console 端的運行指標（API 呼叫、任務操作、查詢生命週期、登入狀態）
//
// 指標分類:
//
//   1. API 呼叫 (Counter/Histogram)：
//      - schedctl_api_requests_total{op,outcome}
//      - schedctl_api_request_duration_seconds{op}
//
//   2. 任務操作 (Counter/Gauge)：
//      - schedctl_actions_total{command,outcome}   outcome: ok|error|rejected|declined
//      - schedctl_actions_in_flight                目前被 ActionLock 鎖住的任務數
//
//   3. 查詢生命週期 (Counter)：
//      - schedctl_fetches_total{kind}              kind: issued|corrective
//      - schedctl_stale_responses_total            被新請求取代而丟棄的回應數
//
//   4. 登入狀態 (Counter)：
//      - schedctl_session_transitions_total{status}
//
// HTTP 端點:
//   console 模式下若設定啟用，透過 /metrics 暴露
//
// 所有方法允許 nil receiver，未啟用監控時元件可直接傳 nil
//
// ============================================================================

package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// API 呼叫
	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec

	// 任務操作
	actions         *prometheus.CounterVec
	actionsInFlight prometheus.Gauge

	// 查詢生命週期
	fetches        *prometheus.CounterVec
	staleResponses prometheus.Counter

	sessionTransitions *prometheus.CounterVec
}

// NewCollector 創建新的指標收集器並註冊到預設 registry
func NewCollector() *Collector {
	c := &Collector{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedctl_api_requests_total",
			Help: "Total number of scheduler API requests by operation and outcome",
		}, []string{"op", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "schedctl_api_request_duration_seconds",
			Help:    "Scheduler API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedctl_actions_total",
			Help: "Total number of job actions by command and outcome",
		}, []string{"command", "outcome"}),
		actionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schedctl_actions_in_flight",
			Help: "Current number of jobs holding an action lock",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedctl_fetches_total",
			Help: "Total number of list fetches issued by kind",
		}, []string{"kind"}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedctl_stale_responses_total",
			Help: "Total number of responses discarded because a newer request was issued",
		}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedctl_session_transitions_total",
			Help: "Total number of session status transitions by target status",
		}, []string{"status"}),
	}

	prometheus.MustRegister(c.apiRequests)
	prometheus.MustRegister(c.apiLatency)
	prometheus.MustRegister(c.actions)
	prometheus.MustRegister(c.actionsInFlight)
	prometheus.MustRegister(c.fetches)
	prometheus.MustRegister(c.staleResponses)
	prometheus.MustRegister(c.sessionTransitions)

	return c
}

// RecordRequest 記錄一次 API 呼叫
func (c *Collector) RecordRequest(op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(op, outcome).Inc()
	c.apiLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordAction 記錄任務操作結果
func (c *Collector) RecordAction(command, outcome string) {
	if c == nil {
		return
	}
	c.actions.WithLabelValues(command, outcome).Inc()
}

// SetActionsInFlight 更新 ActionLock 目前大小
func (c *Collector) SetActionsInFlight(n int) {
	if c == nil {
		return
	}
	c.actionsInFlight.Set(float64(n))
}

// RecordFetch 記錄發出的列表請求
func (c *Collector) RecordFetch(corrective bool) {
	if c == nil {
		return
	}
	kind := "issued"
	if corrective {
		kind = "corrective"
	}
	c.fetches.WithLabelValues(kind).Inc()
}

// RecordStale 記錄被丟棄的過期回應
func (c *Collector) RecordStale() {
	if c == nil {
		return
	}
	c.staleResponses.Inc()
}

// RecordSession 記錄登入狀態轉換
func (c *Collector) RecordSession(status string) {
	if c == nil {
		return
	}
	c.sessionTransitions.WithLabelValues(status).Inc()
}

// StartServer 在背景啟動 Prometheus metrics HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//
// 返回值：
//   - *http.Server: 用於關閉伺服器
func StartServer(port int, onError func(error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()
	return srv
}
