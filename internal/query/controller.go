// ============================================================================
// schedctl Query Controller - 日誌查詢狀態與請求生命週期
// ============================================================================
//
// Package: internal/query
// 文件: controller.go
// 功能: 持有日誌列表的過濾 / 分頁狀態，推導查詢並管理請求
//
// 核心流程:
//   1. Mutator 同步更新 FilterState
//   2. 新狀態與舊狀態相同時不發請求
//   3. 否則遞增序號、取消前一個請求、發出新請求
//   4. 回應序號不是最新的則丟棄
//   5. 當前頁超過伺服器回報的頁數時，夾回最後一頁並只補發一次請求
//
// 並發控制:
//   - mu 保護所有狀態與序號
//   - wg 追蹤進行中的請求，Wait / Close 使用
//   - 監聽者在鎖外呼叫
//
// ============================================================================

package query

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

// MsgLoadLogsFailed 無法解析伺服器訊息時的預設錯誤
const MsgLoadLogsFailed = "failed to load logs"

// ============================================================================
// 依賴介面
// ============================================================================

// LogSource 日誌來源，通常為 *api.Client
type LogSource interface {
	ListLogs(ctx context.Context, q types.LogQuery) (types.LogPage, error)
}

// Gate 判斷目前是否可以發出請求，通常為 *session.Manager
type Gate interface {
	LoggedIn() bool
}

// View 對外顯示的快照
type View struct {
	Items   []types.Log
	Total   int
	Page    int
	Limit   int
	Loading bool
	Error   string
	Filter  FilterState
}

// Pages 依 Total 與 Limit 計算的頁數
func (v View) Pages() int {
	return PageCount(v.Total, v.Limit)
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Controller 日誌查詢控制器
type Controller struct {
	src       LogSource
	gate      Gate
	metrics   *metrics.Collector
	now       func() time.Time
	resetPage bool

	mu        sync.Mutex
	filter    FilterState
	items     []types.Log
	total     int
	loading   bool
	err       string
	seq       uint64
	cancel    context.CancelFunc
	closed    bool
	listeners []func(View)

	wg sync.WaitGroup
}

// Option 設定 Controller
type Option func(*Controller)

// WithSession 未登入時不發出請求
func WithSession(g Gate) Option {
	return func(c *Controller) { c.gate = g }
}

// WithMetrics 記錄請求與過期回應
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLimit 設定初始每頁筆數
func WithLimit(n int) Option {
	return func(c *Controller) { c.filter.Limit = n }
}

// WithPageResetOnFilterChange 頁碼以外的維度改變時，是否將頁碼重設為 1
func WithPageResetOnFilterChange(on bool) Option {
	return func(c *Controller) { c.resetPage = on }
}

// WithNow 替換日期沿用時間時使用的時鐘
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// fetchRequest 一次已登記的請求
type fetchRequest struct {
	seq        uint64
	ctx        context.Context
	query      types.LogQuery
	corrective bool
}

// NewController 建立控制器，不會自動發出請求，需呼叫 Refresh
func NewController(src LogSource, opts ...Option) *Controller {
	c := &Controller{
		src:    src,
		now:    time.Now,
		filter: DefaultFilter(DefaultLimit),
		items:  []types.Log{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.filter = c.filter.normalized()
	return c
}

// ============================================================================
// 讀取
// ============================================================================

// Filter 返回目前的過濾條件
func (c *Controller) Filter() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// View 返回目前的顯示快照
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	items := make([]types.Log, len(c.items))
	copy(items, c.items)
	return View{
		Items:   items,
		Total:   c.total,
		Page:    c.filter.Page,
		Limit:   c.filter.Limit,
		Loading: c.loading,
		Error:   c.err,
		Filter:  c.filter,
	}
}

// OnChange 註冊狀態變化監聽者
func (c *Controller) OnChange(fn func(View)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Wait 等待所有進行中的請求（包含補發請求）結束
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close 取消進行中的請求，之後不再發出請求
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// ============================================================================
// Mutators
// ============================================================================

// Refresh 以目前的過濾條件重新查詢
func (c *Controller) Refresh() {
	c.mu.Lock()
	req, ok := c.issueLocked(false)
	view := c.viewLocked()
	c.mu.Unlock()

	if ok {
		c.notify(view)
		c.start(req)
	}
}

// SetPage 切換頁碼，小於 1 視為 1
func (c *Controller) SetPage(page int) {
	c.update(func(f *FilterState) { f.Page = page })
}

// SetLimit 設定每頁筆數
func (c *Controller) SetLimit(limit int) {
	c.update(func(f *FilterState) { f.Limit = limit })
}

// SetStatusFilter 設定狀態過濾
func (c *Controller) SetStatusFilter(s StatusFilter) {
	c.update(func(f *FilterState) { f.Status = s })
}

// SetJobFilter 設定任務過濾，0 代表全部
func (c *Controller) SetJobFilter(id types.JobID) {
	c.update(func(f *FilterState) { f.JobID = id })
}

// SetFromDate 設定起始日期，沿用原本的時與分
func (c *Controller) SetFromDate(date time.Time) {
	now := c.now()
	c.update(func(f *FilterState) { f.From = CarryDate(date, f.From, now) })
}

// SetToDate 設定結束日期，沿用原本的時與分
func (c *Controller) SetToDate(date time.Time) {
	now := c.now()
	c.update(func(f *FilterState) { f.To = CarryDate(date, f.To, now) })
}

// SetFromTime 設定起始時間；尚未選擇日期時不做任何事
func (c *Controller) SetFromTime(hour, minute int) {
	c.update(func(f *FilterState) {
		if !f.From.IsZero() {
			f.From = WithClock(f.From, hour, minute)
		}
	})
}

// SetToTime 設定結束時間；尚未選擇日期時不做任何事
func (c *Controller) SetToTime(hour, minute int) {
	c.update(func(f *FilterState) {
		if !f.To.IsZero() {
			f.To = WithClock(f.To, hour, minute)
		}
	})
}

// ClearFromDate 清除起始日期
func (c *Controller) ClearFromDate() {
	c.update(func(f *FilterState) { f.From = time.Time{} })
}

// ClearToDate 清除結束日期
func (c *Controller) ClearToDate() {
	c.update(func(f *FilterState) { f.To = time.Time{} })
}

// ResetFilters 一次清除狀態、任務、日期並回到第 1 頁，保留每頁筆數
func (c *Controller) ResetFilters() {
	c.update(func(f *FilterState) {
		*f = FilterState{Page: 1, Limit: f.Limit}
	})
}

// update 套用一次變更；狀態未改變時不發請求
func (c *Controller) update(mutate func(f *FilterState)) {
	c.mu.Lock()
	prev := c.filter
	next := prev
	mutate(&next)
	next = next.normalized()

	if next.Equal(prev) {
		c.mu.Unlock()
		return
	}
	if c.resetPage && !next.sameDimensions(prev) {
		next.Page = 1
	}
	c.filter = next
	req, ok := c.issueLocked(false)
	view := c.viewLocked()
	c.mu.Unlock()

	log.Debug("log filter changed", "page", next.Page, "status", next.Status, "jobID", next.JobID)
	c.notify(view)
	if ok {
		c.start(req)
	}
}

// ============================================================================
// 請求生命週期
// ============================================================================

// issueLocked 登記新請求並取消前一個；呼叫端必須持有 mu
func (c *Controller) issueLocked(corrective bool) (fetchRequest, bool) {
	if c.closed {
		return fetchRequest{}, false
	}
	if c.gate != nil && !c.gate.LoggedIn() {
		// 不發請求，但登記前的請求已不再是最新
		c.supersedeLocked()
		return fetchRequest{}, false
	}

	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.seq++
	c.loading = true
	c.wg.Add(1)
	c.metrics.RecordFetch(corrective)

	return fetchRequest{
		seq:        c.seq,
		ctx:        ctx,
		query:      c.filter.Query(),
		corrective: corrective,
	}, true
}

// supersedeLocked 取消進行中的請求並讓它的回應失效；呼叫端必須持有 mu
func (c *Controller) supersedeLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	c.loading = false
}

func (c *Controller) start(req fetchRequest) {
	go c.fetch(req)
}

// fetch 執行請求，只有最新序號的回應會被套用
func (c *Controller) fetch(req fetchRequest) {
	defer c.wg.Done()

	page, err := c.src.ListLogs(req.ctx, req.query)

	c.mu.Lock()
	if req.seq != c.seq || c.closed {
		c.mu.Unlock()
		c.metrics.RecordStale()
		log.Debug("discarding stale log response", "seq", req.seq)
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if err != nil {
		c.loading = false
		c.err = api.Message(err, MsgLoadLogsFailed)
		view := c.viewLocked()
		c.mu.Unlock()
		log.Warn("failed to load logs", "error", err)
		c.notify(view)
		return
	}

	limit := page.Limit
	if limit < 1 {
		limit = c.filter.Limit
	}
	last := PageCount(page.Total, limit)
	if last < 1 {
		last = 1
	}

	if !req.corrective && c.filter.Page > last {
		log.Info("page out of range, clamping", "page", c.filter.Page, "last", last, "total", page.Total)
		c.filter.Page = last
		c.total = page.Total
		next, ok := c.issueLocked(true)
		if !ok {
			c.loading = false
		}
		view := c.viewLocked()
		c.mu.Unlock()
		c.notify(view)
		if ok {
			c.start(next)
		}
		return
	}

	items := page.Items
	if items == nil {
		items = []types.Log{}
	}
	c.items = items
	c.total = page.Total
	c.loading = false
	c.err = ""
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(view)
}

func (c *Controller) notify(view View) {
	c.mu.Lock()
	listeners := make([]func(View), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(view)
	}
}
