// ============================================================================
// schedctl Worker Pool - 並發命令執行器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理多個 Worker goroutine，並發執行批次任務命令（例如 jobs run 1 2 3）
//
// 設計模式:
//   採用 Worker Pool 模式：
//   1. 固定數量的 Worker goroutine 持續運行
//   2. 通過共享的任務 channel 分發任務
//   3. 通過結果 channel 收集執行結果
//
// 架構組件:
//   ┌─────────────┐
//   │  CLI bulk   │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  └────────┘ │
//   └─────────────┘
//
// 每個 Worker 呼叫 Handler（通常為 Dispatcher.Dispatch），
// 因此同一任務的重複命令仍受 ActionLock 保護
//
// 生命週期:
//   1. NewPool(bufferSize, handler) - 創建 Pool
//   2. Start(n) - 啟動 n 個 Worker goroutines
//   3. Submit(task) - 提交任務
//   4. ReceiveResult() - 讀取結果
//   5. Stop() - 關閉 taskCh，等待所有 Worker 完成後關閉 resultCh
//
// 並發控制:
//   - sendMu (RWMutex): Submit 持有讀鎖送出，Stop 持有寫鎖關閉 taskCh，
//     因此不會對已關閉的 channel 送出
//   - resultCh 的緩衝應不小於提交數量，或由呼叫端持續讀取
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示當前 Pool 已關閉，無法提交新任務
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted 表示 Pool 尚未啟動，無法提交任務
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStarted 表示 Pool 已啟動
	ErrPoolStarted = errors.New("worker pool already started")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表 Worker 池，管理多個並發的 Worker
type Pool struct {
	workers  []*Worker   // 所有啟動的 Worker
	handler  Handler     // 每個任務的執行邏輯
	taskCh   chan Task   // 任務通道
	resultCh chan Result // 結果通道
	ctx      context.Context
	cancel   context.CancelFunc

	wg      sync.WaitGroup // 等待所有 Worker 完成
	sendMu  sync.RWMutex   // 保護 taskCh 的送出與關閉
	mu      sync.Mutex     // 保護 started 和 stopped
	started bool
	stopped bool
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立新的 Worker Pool
// 參數：
//   - bufferSize: 任務和結果通道的緩衝大小
//   - handler: 執行任務的函式
//
// 返回值：
//   - *Pool: Worker Pool 實例
func NewPool(bufferSize int, handler Handler) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:  make([]*Worker, 0),
		handler:  handler,
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 啟動指定數量的 Worker
// 參數：
//   - workerCount: 要啟動的 Worker 數量（至少 1）
//
// 返回值：
//   - error: 如果 Pool 已啟動則返回 ErrPoolStarted
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}
	if workerCount < 1 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		worker := newWorker(p.ctx, i, p.handler, p.taskCh, p.resultCh)
		p.workers = append(p.workers, worker)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(worker)
	}

	p.started = true
	return nil
}

// Submit 提交任務到 Worker Pool
//
// 返回值：
//   - error: 如果 Pool 未啟動或已關閉則返回錯誤
func (p *Pool) Submit(task Task) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()

	if !started {
		return ErrPoolNotStarted
	}
	if stopped {
		return ErrPoolClosed
	}

	select {
	case p.taskCh <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// ReceiveResult 從結果通道接收執行結果
// 返回值：
//   - Result: 任務執行結果
//   - error: 結果通道已關閉時返回 ErrPoolClosed
func (p *Pool) ReceiveResult() (Result, error) {
	result, ok := <-p.resultCh
	if !ok {
		return Result{}, ErrPoolClosed
	}
	return result, nil
}

// Stop 優雅地關閉 Worker Pool
// 關閉流程：
//  1. 設定 stopped 標誌
//  2. 關閉 taskCh，Worker 處理完佇列中的任務後退出
//  3. 等待所有 Worker 完成
//  4. 取消 context 並關閉 resultCh（已產生的結果仍可讀取）
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.sendMu.Lock()
	close(p.taskCh)
	p.sendMu.Unlock()

	p.wg.Wait()
	p.cancel()
	close(p.resultCh)
}

// GetWorkerCount 返回當前 Worker 數量
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// RunAll 以 workerCount 個 Worker 執行所有任務，返回與 tasks 相同順序的結果
func RunAll(handler Handler, workerCount int, tasks []Task) []Result {
	pool := NewPool(len(tasks), handler)
	if err := pool.Start(workerCount); err != nil {
		return nil
	}
	log.Debug("running commands", "tasks", len(tasks), "workers", pool.GetWorkerCount())
	for _, task := range tasks {
		if err := pool.Submit(task); err != nil {
			log.Warn("failed to submit task", "jobID", task.JobID, "error", err)
		}
	}
	pool.Stop()

	byJob := make(map[Task][]Result, len(tasks))
	for {
		result, err := pool.ReceiveResult()
		if err != nil {
			break
		}
		key := Task{JobID: result.JobID, Command: result.Command}
		byJob[key] = append(byJob[key], result)
	}

	ordered := make([]Result, 0, len(tasks))
	for _, task := range tasks {
		if pending := byJob[task]; len(pending) > 0 {
			ordered = append(ordered, pending[0])
			byJob[task] = pending[1:]
		}
	}
	return ordered
}
