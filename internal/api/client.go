// ============================================================================
// schedctl API Client - 排程器 REST 客戶端
// ============================================================================
//
// Package: internal/api
// 文件: client.go
// 功能: 封裝排程器伺服器的 REST 介面（jobs / logs / users）
//
// 請求流程:
//   1. 建立 span（OpenTelemetry），注入 trace-context header
//   2. 每次請求在送出當下讀取 token（不在建構時快取）
//   3. 附加 X-Request-ID（uuid）便於對照伺服器日誌
//   4. 非 2xx 回應解碼為 *Error，帶回伺服器訊息
//   5. 記錄 Prometheus 指標（操作、結果、延遲）
//
// 401 處理:
//   帶 token 的請求收到 401 時呼叫 unauthorized handler，
//   由 session 判斷是否為目前的 token 並轉為 LOGGED_OUT
//
// ============================================================================

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ChuLiYu/schedctl/internal/metrics"
	"github.com/ChuLiYu/schedctl/internal/observability"
)

var log = slog.Default()

// DefaultTimeout 單次請求的預設逾時
const DefaultTimeout = 10 * time.Second

// RequestIDHeader 每個請求附帶的追蹤識別碼
const RequestIDHeader = "X-Request-ID"

// maxBodySize 回應內容讀取上限
const maxBodySize = 8 << 20

// TokenSource 在請求送出時提供目前的 bearer token
type TokenSource interface {
	Token() string
}

// TokenFunc 將函式轉為 TokenSource
type TokenFunc func() string

// Token 實作 TokenSource
func (f TokenFunc) Token() string { return f() }

// Client 排程器 REST 客戶端，可安全地被多個 goroutine 共用
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenSource
	metrics        *metrics.Collector
	onUnauthorized func(token string)
}

// Option 客戶端設定選項
type Option func(*Client)

// WithHTTPClient 使用自訂的 http.Client（測試時注入 httptest 客戶端）
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout 設定單次請求逾時，0 表示不限制
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		// 複製後再設定，不改動呼叫端共用的 http.Client
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// WithMetrics 記錄請求指標
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithUnauthorizedHandler 帶 token 的請求收到 401 時呼叫 fn，參數為送出時使用的 token
func WithUnauthorizedHandler(fn func(token string)) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// New 建立客戶端
//
// 參數：
//   - baseURL: 伺服器位址，例如 http://localhost:4000
//   - tokens: token 來源，可為 nil（只能呼叫 Login）
//
// 返回值：
//   - *Client: 客戶端實例
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL 伺服器位址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// call 描述一次 REST 呼叫
type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	out    any
	auth   bool
}

// do 執行一次請求並解碼回應
func (c *Client) do(ctx context.Context, cl call) error {
	ctx, span := observability.StartSpan(ctx, "api."+cl.op,
		attribute.String("http.method", cl.method),
		attribute.String("http.route", cl.path),
	)
	defer span.End()

	start := time.Now()
	requestID := uuid.NewString()
	span.SetAttributes(attribute.String("request.id", requestID))

	token, err := c.send(ctx, cl, requestID)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			outcome = "transport"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug("api request failed", "op", cl.op, "requestID", requestID, "error", err)
	}
	c.metrics.RecordRequest(cl.op, outcome, time.Since(start))

	if cl.auth && token != "" && IsUnauthorized(err) && c.onUnauthorized != nil {
		c.onUnauthorized(token)
	}
	return err
}

// send 送出請求，返回送出時使用的 token
func (c *Client) send(ctx context.Context, cl call, requestID string) (string, error) {
	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return "", fmt.Errorf("%s: encode request: %w", cl.op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var token string
	if cl.auth && c.tokens != nil {
		token = c.tokens.Token()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return token, fmt.Errorf("%s: %w", cl.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return token, fmt.Errorf("%s: read response: %w", cl.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return token, &Error{
			Op:         cl.op,
			StatusCode: resp.StatusCode,
			Message:    decodeMessage(data),
			RequestID:  requestID,
		}
	}

	if cl.out != nil {
		if len(bytes.TrimSpace(data)) == 0 {
			return token, fmt.Errorf("%s: %w", cl.op, ErrEmptyResponse)
		}
		if err := json.Unmarshal(data, cl.out); err != nil {
			return token, fmt.Errorf("%s: decode response: %w", cl.op, err)
		}
	}
	return token, nil
}
