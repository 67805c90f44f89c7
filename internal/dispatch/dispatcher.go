// ============================================================================
// schedctl Dispatcher - 任務操作分派器
// ============================================================================
//
// Package: internal/dispatch
// 文件: dispatcher.go
// 功能: 對單一任務執行 start / pause / run / delete，並維護 ActionLock
//
// 執行流程（Dispatch）:
//   1. 驗證命令
//   2. 未登入則拒絕
//   3. 任務已在 ActionLock 中則拒絕（不重新整理）
//   4. delete 需要確認；拒絕確認為 no-op（不上鎖、不重新整理）
//   5. 加入 ActionLock，送出一次請求
//   6. 無論成功或失敗：移出 ActionLock，呼叫 refresh 一次
//
// 並發:
//   - 同一任務同時最多一個進行中的命令
//   - 不同任務互不影響，沒有跨任務的順序保證
//   - 錯誤以 types.Result 返回，不會 panic 出邊界
//
// ============================================================================

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/schedctl/internal/api"
	"github.com/ChuLiYu/schedctl/internal/metrics"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrBusy           = errors.New("an action is already in progress for this job")
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrUnknownCommand = errors.New("unknown command")
	ErrDeclined       = errors.New("cancelled")
)

// ============================================================================
// 命令
// ============================================================================

// Command 對任務的變更操作
type Command string

const (
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandRun    Command = "run"
	CommandDelete Command = "delete"
)

// Commands 所有命令
var Commands = []Command{CommandStart, CommandPause, CommandRun, CommandDelete}

// Valid 是否為已知命令
func (c Command) Valid() bool {
	switch c {
	case CommandStart, CommandPause, CommandRun, CommandDelete:
		return true
	}
	return false
}

// fallback 無伺服器訊息時顯示的文字
func (c Command) fallback() string {
	switch c {
	case CommandStart:
		return "failed to start job"
	case CommandPause:
		return "failed to pause job"
	case CommandRun:
		return "failed to run job"
	case CommandDelete:
		return "failed to delete job"
	}
	return "action failed"
}

// ParseCommand 解析命令名稱，接受 runNow / run-now 作為 run 的別名
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return CommandStart, nil
	case "pause":
		return CommandPause, nil
	case "run", "runnow", "run-now", "run_now":
		return CommandRun, nil
	case "delete":
		return CommandDelete, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// ============================================================================
// 依賴介面
// ============================================================================

// Executor 送出命令對應的請求（api.Client 實作此介面）
type Executor interface {
	StartJob(ctx context.Context, id types.JobID) error
	PauseJob(ctx context.Context, id types.JobID) error
	RunJob(ctx context.Context, id types.JobID) error
	DeleteJob(ctx context.Context, id types.JobID) error
}

// Confirmer 向使用者確認 delete
type Confirmer interface {
	Confirm(ctx context.Context, id types.JobID, cmd Command) bool
}

// ConfirmFunc 將函式轉為 Confirmer
type ConfirmFunc func(ctx context.Context, id types.JobID, cmd Command) bool

// Confirm 實作 Confirmer
func (f ConfirmFunc) Confirm(ctx context.Context, id types.JobID, cmd Command) bool {
	return f(ctx, id, cmd)
}

// Gate 登入狀態（session.Manager 實作此介面）
type Gate interface {
	LoggedIn() bool
}

// ============================================================================
// Dispatcher
// ============================================================================

// Dispatcher 任務操作分派器
type Dispatcher struct {
	exec    Executor
	gate    Gate
	confirm Confirmer
	metrics *metrics.Collector
	timeout time.Duration

	mu       sync.Mutex
	inflight map[types.JobID]Command // ActionLock
	refresh  []func()
}

// Option Dispatcher 設定選項
type Option func(*Dispatcher)

// WithSession 未登入時拒絕所有命令
func WithSession(g Gate) Option {
	return func(d *Dispatcher) { d.gate = g }
}

// WithConfirmer 設定 delete 的確認方式；未設定時 delete 一律視為未確認
func WithConfirmer(c Confirmer) Option {
	return func(d *Dispatcher) { d.confirm = c }
}

// WithRefresh 註冊完成後的重新整理 callback
func WithRefresh(fn func()) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.refresh = append(d.refresh, fn)
		}
	}
}

// WithMetrics 記錄操作結果
func WithMetrics(m *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTimeout 單次命令的時間上限，0 表示只使用呼叫端的 context
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// New 建立分派器
func New(exec Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		exec:     exec,
		inflight: make(map[types.JobID]Command),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnRefresh 註冊完成後的重新整理 callback
func (d *Dispatcher) OnRefresh(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refresh = append(d.refresh, fn)
}

// Busy 任務是否有進行中的命令
func (d *Dispatcher) Busy(id types.JobID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

// InFlight 目前在 ActionLock 中的任務（依 ID 排序）
func (d *Dispatcher) InFlight() []types.JobID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]types.JobID, 0, len(d.inflight))
	for id := range d.inflight {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dispatch 對任務執行命令
//
// 參數：
//   - id: 任務 ID
//   - cmd: start / pause / run / delete
//
// 返回值：
//   - types.Result: 失敗時 Error 為伺服器訊息或該命令的通用文字
func (d *Dispatcher) Dispatch(ctx context.Context, id types.JobID, cmd Command) types.Result {
	if !cmd.Valid() {
		d.metrics.RecordAction(string(cmd), "rejected")
		return types.Fail(fmt.Sprintf("%s: %q", ErrUnknownCommand, cmd))
	}
	if d.gate != nil && !d.gate.LoggedIn() {
		d.metrics.RecordAction(string(cmd), "rejected")
		return types.Fail(ErrNotLoggedIn.Error())
	}
	if d.Busy(id) {
		log.Debug("action rejected, job busy", "jobID", id, "command", cmd)
		d.metrics.RecordAction(string(cmd), "rejected")
		return types.Fail(ErrBusy.Error())
	}

	if cmd == CommandDelete && (d.confirm == nil || !d.confirm.Confirm(ctx, id, cmd)) {
		log.Debug("delete not confirmed", "jobID", id)
		d.metrics.RecordAction(string(cmd), "declined")
		return types.Fail(ErrDeclined.Error())
	}

	if !d.tryAcquire(id, cmd) {
		d.metrics.RecordAction(string(cmd), "rejected")
		return types.Fail(ErrBusy.Error())
	}
	defer d.finish(id)

	start := time.Now()
	err := d.execute(ctx, id, cmd)
	if err != nil {
		log.Warn("action failed", "jobID", id, "command", cmd, "error", err, "duration", time.Since(start))
		d.metrics.RecordAction(string(cmd), "error")
		return types.Fail(api.Message(err, cmd.fallback()))
	}

	log.Info("action completed", "jobID", id, "command", cmd, "duration", time.Since(start))
	d.metrics.RecordAction(string(cmd), "ok")
	return types.Ok()
}

// tryAcquire 原子性地將任務加入 ActionLock
func (d *Dispatcher) tryAcquire(id types.JobID, cmd Command) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = cmd
	d.metrics.SetActionsInFlight(len(d.inflight))
	return true
}

// finish 移出 ActionLock 後呼叫每個 refresh callback 一次
func (d *Dispatcher) finish(id types.JobID) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.metrics.SetActionsInFlight(len(d.inflight))
	callbacks := append([]func(){}, d.refresh...)
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// execute 送出請求；executor 的 panic 轉為錯誤
func (d *Dispatcher) execute(ctx context.Context, id types.JobID, cmd Command) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s job %s: panic: %v", cmd, id, r)
		}
	}()

	switch cmd {
	case CommandStart:
		return d.exec.StartJob(ctx, id)
	case CommandPause:
		return d.exec.PauseJob(ctx, id)
	case CommandRun:
		return d.exec.RunJob(ctx, id)
	case CommandDelete:
		return d.exec.DeleteJob(ctx, id)
	}
	return ErrUnknownCommand
}
