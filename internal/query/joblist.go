package query

import (
	"context"
	"sync"

	"github.com/ChuLiYu/schedctl/internal/api"
	"github.com/ChuLiYu/schedctl/internal/metrics"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

// MsgLoadJobsFailed 無法解析伺服器訊息時的預設錯誤
const MsgLoadJobsFailed = "failed to load jobs"

// JobSource 任務列表來源，通常為 *api.Client
type JobSource interface {
	ListJobs(ctx context.Context) ([]types.Job, error)
}

// JobOption 日誌任務過濾選單的一個選項
type JobOption struct {
	ID   types.JobID
	Name string
}

// JobView 任務列表快照
type JobView struct {
	Jobs    []types.Job
	Loading bool
	Error   string
}

// Options 由任務列表推導出的過濾選項
func (v JobView) Options() []JobOption {
	opts := make([]JobOption, 0, len(v.Jobs))
	for _, j := range v.Jobs {
		opts = append(opts, JobOption{ID: j.ID, Name: j.Name})
	}
	return opts
}

// JobList 任務列表載入器：沒有過濾條件的 Controller
// Refresh 通常註冊為 Dispatcher 的 refresh callback
type JobList struct {
	src     JobSource
	gate    Gate
	metrics *metrics.Collector

	mu        sync.Mutex
	jobs      []types.Job
	loading   bool
	err       string
	seq       uint64
	cancel    context.CancelFunc
	closed    bool
	listeners []func(JobView)

	wg sync.WaitGroup
}

// JobListOption 設定 JobList
type JobListOption func(*JobList)

// WithJobSession 未登入時不發出請求
func WithJobSession(g Gate) JobListOption {
	return func(l *JobList) { l.gate = g }
}

// WithJobMetrics 記錄請求與過期回應
func WithJobMetrics(m *metrics.Collector) JobListOption {
	return func(l *JobList) { l.metrics = m }
}

// NewJobList 建立任務列表載入器
func NewJobList(src JobSource, opts ...JobListOption) *JobList {
	l := &JobList{src: src, jobs: []types.Job{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// View 返回目前的任務列表
func (l *JobList) View() JobView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked()
}

func (l *JobList) viewLocked() JobView {
	jobs := make([]types.Job, len(l.jobs))
	copy(jobs, l.jobs)
	return JobView{Jobs: jobs, Loading: l.loading, Error: l.err}
}

// OnChange 註冊狀態變化監聽者
func (l *JobList) OnChange(fn func(JobView)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Wait 等待進行中的請求結束
func (l *JobList) Wait() {
	l.wg.Wait()
}

// Close 取消進行中的請求，之後不再發出請求
func (l *JobList) Close() {
	l.mu.Lock()
	l.closed = true
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mu.Unlock()
	l.wg.Wait()
}

// Refresh 重新載入任務列表，較舊的回應會被丟棄
func (l *JobList) Refresh() {
	l.mu.Lock()
	if l.closed || (l.gate != nil && !l.gate.LoggedIn()) {
		l.mu.Unlock()
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.seq++
	seq := l.seq
	l.loading = true
	l.wg.Add(1)
	l.metrics.RecordFetch(false)
	view := l.viewLocked()
	l.mu.Unlock()

	l.notify(view)
	go l.fetch(ctx, seq)
}

func (l *JobList) fetch(ctx context.Context, seq uint64) {
	defer l.wg.Done()

	jobs, err := l.src.ListJobs(ctx)

	l.mu.Lock()
	if seq != l.seq || l.closed {
		l.mu.Unlock()
		l.metrics.RecordStale()
		return
	}
	l.cancel()
	l.cancel = nil
	l.loading = false
	if err != nil {
		l.err = api.Message(err, MsgLoadJobsFailed)
		log.Warn("failed to load jobs", "error", err)
	} else {
		if jobs == nil {
			jobs = []types.Job{}
		}
		l.jobs = jobs
		l.err = ""
	}
	view := l.viewLocked()
	l.mu.Unlock()

	l.notify(view)
}

func (l *JobList) notify(view JobView) {
	l.mu.Lock()
	listeners := make([]func(JobView), len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(view)
	}
}
