package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/schedctl/internal/api"
	"github.com/ChuLiYu/schedctl/internal/dispatch"
	"github.com/ChuLiYu/schedctl/internal/metrics"
	"github.com/ChuLiYu/schedctl/internal/observability"
	"github.com/ChuLiYu/schedctl/internal/query"
	"github.com/ChuLiYu/schedctl/internal/session"
)

// ErrNotLoggedIn 需要登入的命令在沒有有效 session 時返回
var ErrNotLoggedIn = errors.New("not logged in (run 'schedctl login')")

// runtime 一次命令執行所需的全部元件
type runtime struct {
	cfg        *Config
	metrics    *metrics.Collector
	client     *api.Client
	session    *session.Manager
	dispatcher *dispatch.Dispatcher
	jobs       *query.JobList
	logs       *query.Controller
	closers    []func()
}

// newRuntime 依設定組裝 token 儲存、API client、session、dispatcher 與查詢控制器
// 參數：
//   - ctx: 連線 Redis 等初始化動作使用
//   - cfg: 已載入的設定
//   - confirmer: 刪除確認；nil 表示一律拒絕
//
// 返回值：
//   - *runtime: 使用完畢後必須呼叫 Close
//   - error: token 儲存無法建立
func newRuntime(ctx context.Context, cfg *Config, confirmer dispatch.Confirmer) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	if cfg.Metrics.Enabled {
		rt.metrics = metrics.NewCollector()
	}

	store, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}

	rt.client = api.New(cfg.API.BaseURL,
		api.TokenFunc(func() string { return rt.session.Token() }),
		api.WithTimeout(cfg.API.Timeout),
		api.WithMetrics(rt.metrics),
		api.WithUnauthorizedHandler(func(token string) { rt.session.Expire(token) }),
	)
	rt.session = session.NewManager(store, rt.client, session.WithMetrics(rt.metrics))

	rt.jobs = query.NewJobList(rt.client,
		query.WithJobSession(rt.session),
		query.WithJobMetrics(rt.metrics),
	)
	rt.logs = query.NewController(rt.client,
		query.WithSession(rt.session),
		query.WithMetrics(rt.metrics),
		query.WithLimit(cfg.Logs.PageSize),
		query.WithPageResetOnFilterChange(cfg.Logs.ResetPageOnFilterChange),
	)
	rt.closers = append(rt.closers, rt.logs.Close, rt.jobs.Close)

	rt.dispatcher = dispatch.New(rt.client,
		dispatch.WithSession(rt.session),
		dispatch.WithConfirmer(confirmer),
		dispatch.WithRefresh(rt.jobs.Refresh),
		dispatch.WithMetrics(rt.metrics),
		dispatch.WithTimeout(cfg.API.Timeout),
	)
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) (session.TokenStore, error) {
	switch rt.cfg.Session.Store {
	case StoreRedis:
		r := rt.cfg.Session.Redis
		store, err := session.DialRedis(ctx, session.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Key:      r.Key,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		return store, nil
	case StoreMemory:
		return session.NewMemoryStore(""), nil
	default:
		return session.NewFileStore(rt.cfg.Session.File), nil
	}
}

// requireLogin 以保存的 token 恢復 session
func (rt *runtime) requireLogin(ctx context.Context) error {
	if rt.session.Resolve(ctx) != session.StatusLoggedIn {
		return ErrNotLoggedIn
	}
	return nil
}

// Close 依建立的相反順序釋放資源
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// setupLogging 依設定安裝預設 slog logger
// 參數：
//   - cfg: log.level / log.file
//   - fallback: 未指定 log.file 時的輸出位置
//
// 返回值：
//   - func(): 關閉 log 檔
func setupLogging(cfg *Config, fallback io.Writer) (func(), error) {
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	out, closeFn := fallback, func() {}
	if cfg.Log.File != "" {
		f, err := openAppend(cfg.Log.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closeFn = f, func() { _ = f.Close() }
	}

	slog.SetLogLoggerLevel(level)
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}

// setupTracing 安裝 tracer provider；stdout exporter 可改寫到 tracing.file
func setupTracing(cfg *Config, fallback io.Writer) (func(), error) {
	out, closeFile := fallback, func() {}
	if cfg.Tracing.File != "" {
		f, err := openAppend(cfg.Tracing.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		out, closeFile = f, func() { _ = f.Close() }
	}

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		Service:  "schedctl",
		Exporter: cfg.Tracing.Exporter,
		Output:   out,
	})
	if err != nil {
		closeFile()
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
		closeFile()
	}, nil
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
