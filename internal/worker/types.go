package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/schedctl/internal/dispatch"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

// Task 代表對單一任務的一個命令
type Task struct {
	JobID   types.JobID      // 目標任務
	Command dispatch.Command // start / pause / run / delete
}

// Result 代表命令執行結果
type Result struct {
	JobID    types.JobID      // 任務 ID
	Command  dispatch.Command // 執行的命令
	Outcome  types.Result     // 分派器回傳的結果
	Duration time.Duration    // 實際執行時間
}

// Handler 執行一個 Task，通常為 Dispatcher.Dispatch
type Handler func(ctx context.Context, task Task) types.Result

// DispatchHandler 將 Dispatcher 包裝為 Handler
func DispatchHandler(d *dispatch.Dispatcher) Handler {
	return func(ctx context.Context, task Task) types.Result {
		return d.Dispatch(ctx, task.JobID, task.Command)
	}
}
