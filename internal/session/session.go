// ============================================================================
// schedctl Session - 登入狀態機
// ============================================================================
//
// Package: internal/session
// 文件: session.go
// 功能: 持有 token 與目前使用者，決定其他元件能否發出請求
//
// 狀態轉換:
//
//   PENDING ──Resolve()──> LOGGED_IN | LOGGED_OUT
//   LOGGED_OUT ──Login()──> LOGGED_IN
//   LOGGED_IN ──Logout() / Expire()──> LOGGED_OUT
//
//   PENDING 只存在於行程啟動到 Resolve 完成之間，不會再回到 PENDING
//
// 不變式:
//   status == LOGGED_IN  <=>  token 與 identity 皆存在
//
// 並發:
//   - Login / Resolve 互斥（opMu），Logout 不等待進行中的 Login
//   - epoch 在每次 Logout/Expire 時遞增，進行中的 Login/Resolve
//     發現 epoch 改變就放棄套用結果
//   - 其他元件透過 Token() 在請求送出時讀取 token
//
// ============================================================================

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/schedctl/internal/api"
	"github.com/ChuLiYu/schedctl/internal/metrics"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

var log = slog.Default()

// Status 登入狀態
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusLoggedIn  Status = "LOGGED_IN"
	StatusLoggedOut Status = "LOGGED_OUT"
)

// 無法取得伺服器訊息時顯示的文字
const (
	msgLoginFailed    = "login failed"
	msgIdentityFailed = "failed to load user"
)

// storeTimeout logout/expire 清除儲存位置的時間上限
const storeTimeout = 3 * time.Second

// Authenticator 登入與查詢目前使用者
type Authenticator interface {
	Login(ctx context.Context, id, password string) (string, error)
	Me(ctx context.Context) (types.Identity, error)
}

// Manager 登入狀態機
type Manager struct {
	store   TokenStore
	auth    Authenticator
	metrics *metrics.Collector

	opMu sync.Mutex // 串行化 Login 與 Resolve

	mu        sync.RWMutex
	token     string
	identity  *types.Identity
	status    Status
	resolved  bool
	epoch     uint64
	listeners []func(Status)
}

// Option Manager 設定選項
type Option func(*Manager)

// WithMetrics 記錄狀態轉換
func WithMetrics(m *metrics.Collector) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager 建立狀態機，初始狀態為 PENDING
//
// auth 通常是 api.Client，其 TokenSource 應指回這個 Manager：
//
//	var m *session.Manager
//	client := api.New(url, api.TokenFunc(func() string { return m.Token() }))
//	m = session.NewManager(store, client)
func NewManager(store TokenStore, auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		auth:   auth,
		status: StatusPending,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ============================================================================
// 讀取
// ============================================================================

// Token 目前的 token，未登入時為空字串
func (m *Manager) Token() string {
	if m == nil {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Identity 目前使用者，未登入時 ok 為 false
func (m *Manager) Identity() (types.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return types.Identity{}, false
	}
	return *m.identity, true
}

// Status 目前狀態
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LoggedIn 是否已登入
func (m *Manager) LoggedIn() bool {
	return m.Status() == StatusLoggedIn
}

// OnChange 註冊狀態變化通知，fn 在狀態改變後於呼叫端 goroutine 執行
func (m *Manager) OnChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// ============================================================================
// 狀態轉換
// ============================================================================

// Resolve 以保存的 token 查詢使用者，決定初始狀態
//
// 行為：
//   - 沒有保存的 token：直接 LOGGED_OUT，不發出請求
//   - 查詢成功：LOGGED_IN
//   - 任何失敗（網路、401、回應無法解析）：LOGGED_OUT 並清除 token
//   - 已解析過則直接返回目前狀態；Login 之後可再次呼叫
func (m *Manager) Resolve(ctx context.Context) Status {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.resolved {
		status := m.status
		m.mu.Unlock()
		return status
	}
	m.resolved = true
	epoch := m.epoch
	m.mu.Unlock()

	token, err := m.store.Load(ctx)
	if err != nil {
		log.Warn("failed to load persisted token", "error", err)
		m.forget(epoch)
		return m.Status()
	}
	if token == "" {
		m.transition(epoch, "", nil, StatusLoggedOut)
		return m.Status()
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	identity, err := m.auth.Me(ctx)
	if err != nil {
		log.Info("persisted token rejected", "error", err)
		m.forget(epoch)
		return m.Status()
	}

	m.transition(epoch, token, &identity, StatusLoggedIn)
	return m.Status()
}

// Login 以帳號密碼登入
//
// 參數：
//   - id, password: 使用者帳號與密碼
//
// 返回值：
//   - types.Result: 失敗時 Error 為伺服器訊息，或無結構化訊息時的通用文字
func (m *Manager) Login(ctx context.Context, id, password string) types.Result {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	token, err := m.auth.Login(ctx, id, password)
	if err != nil {
		log.Info("login rejected", "user", id, "error", err)
		m.forget(epoch)
		return types.Fail(api.Message(err, msgLoginFailed))
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return types.Fail(msgLoginFailed)
	}
	m.token = token
	m.mu.Unlock()

	if err := m.store.Save(ctx, token); err != nil {
		log.Warn("failed to persist token", "error", err)
	}

	identity, err := m.auth.Me(ctx)
	if err != nil {
		log.Warn("identity lookup after login failed", "user", id, "error", err)
		m.forget(epoch)
		return types.Fail(api.Message(err, msgIdentityFailed))
	}

	if !m.transition(epoch, token, &identity, StatusLoggedIn) {
		// logout won the race; drop the token this login persisted
		if err := m.store.Clear(ctx); err != nil {
			log.Warn("failed to clear persisted token", "error", err)
		}
		return types.Fail(msgLoginFailed)
	}

	m.mu.Lock()
	m.resolved = false
	m.mu.Unlock()

	log.Info("logged in", "user", identity.ID)
	return types.Ok()
}

// Logout 同步清除 token 與使用者，不發出 API 請求
func (m *Manager) Logout() {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	m.forget(epoch)
	log.Info("logged out")
}

// Expire 伺服器以 401 拒絕 token 時呼叫
// 只有 token 仍是目前的 token 才轉為 LOGGED_OUT，已被取代的舊 token 忽略
func (m *Manager) Expire(token string) {
	m.mu.Lock()
	if token == "" || token != m.token {
		m.mu.Unlock()
		return
	}
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	log.Warn("session expired")
	m.forget(epoch)
}

// ============================================================================
// 內部輔助
// ============================================================================

// forget 清除 token 與使用者並轉為 LOGGED_OUT
func (m *Manager) forget(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		log.Warn("failed to clear persisted token", "error", err)
	}
	m.transition(epoch, "", nil, StatusLoggedOut)
}

// transition 在 epoch 未變時套用新狀態並通知
func (m *Manager) transition(epoch uint64, token string, identity *types.Identity, status Status) bool {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return false
	}
	changed := m.status != status
	m.token = token
	m.identity = identity
	m.status = status
	listeners := append([]func(Status){}, m.listeners...)
	m.mu.Unlock()

	if changed {
		m.metrics.RecordSession(string(status))
		for _, fn := range listeners {
			fn(status)
		}
	}
	return true
}
