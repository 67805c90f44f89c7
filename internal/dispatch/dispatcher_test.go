package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/schedctl/internal/api"
	"github.com/ChuLiYu/schedctl/internal/schedtest"
	"github.com/ChuLiYu/schedctl/pkg/types"
)

// ============================================================================
// 測試輔助
// ============================================================================

// fakeExecutor 可以暫停特定任務、注入錯誤並記錄並發度
type fakeExecutor struct {
	mu        sync.Mutex
	calls     map[types.JobID][]Command
	gates     map[types.JobID]chan struct{}
	errs      map[Command]error
	panics    bool
	active    map[types.JobID]int
	maxActive map[types.JobID]int
	entered   chan types.JobID
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		calls:     make(map[types.JobID][]Command),
		gates:     make(map[types.JobID]chan struct{}),
		errs:      make(map[Command]error),
		active:    make(map[types.JobID]int),
		maxActive: make(map[types.JobID]int),
		entered:   make(chan types.JobID, 64),
	}
}

// hold 讓 id 的下一個命令停住，直到返回的 release 被呼叫
func (f *fakeExecutor) hold(id types.JobID) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[id] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeExecutor) run(ctx context.Context, id types.JobID, cmd Command) error {
	f.mu.Lock()
	f.calls[id] = append(f.calls[id], cmd)
	f.active[id]++
	if f.active[id] > f.maxActive[id] {
		f.maxActive[id] = f.active[id]
	}
	gate := f.gates[id]
	err := f.errs[cmd]
	shouldPanic := f.panics
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[id]--
		f.mu.Unlock()
	}()

	f.entered <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if shouldPanic {
		panic("executor exploded")
	}
	return err
}

func (f *fakeExecutor) StartJob(ctx context.Context, id types.JobID) error {
	return f.run(ctx, id, CommandStart)
}
func (f *fakeExecutor) PauseJob(ctx context.Context, id types.JobID) error {
	return f.run(ctx, id, CommandPause)
}
func (f *fakeExecutor) RunJob(ctx context.Context, id types.JobID) error {
	return f.run(ctx, id, CommandRun)
}
func (f *fakeExecutor) DeleteJob(ctx context.Context, id types.JobID) error {
	return f.run(ctx, id, CommandDelete)
}

func (f *fakeExecutor) callCount(id types.JobID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[id])
}

type gate bool

func (g gate) LoggedIn() bool { return bool(g) }

func always(answer bool) ConfirmFunc {
	return func(context.Context, types.JobID, Command) bool { return answer }
}

// ============================================================================
// 命令
// ============================================================================

func TestParseCommand(t *testing.T) {
	testCases := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"start", CommandStart, true},
		{"PAUSE", CommandPause, true},
		{"run", CommandRun, true},
		{"runNow", CommandRun, true},
		{"run-now", CommandRun, true},
		{" delete ", CommandDelete, true},
		{"restart", "", false},
		{"", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCommand(tc.in)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrUnknownCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// ============================================================================
// Dispatch
// ============================================================================

func TestDispatchSuccessRefreshesOnce(t *testing.T) {
	exec := newFakeExecutor()
	var refreshes int32
	d := New(exec, WithRefresh(func() { atomic.AddInt32(&refreshes, 1) }))

	result := d.Dispatch(context.Background(), 7, CommandStart)

	assert.Equal(t, types.Ok(), result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.False(t, d.Busy(7))
	assert.Equal(t, 1, exec.callCount(7))
}

func TestDispatchFailureStillReleasesAndRefreshes(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs[CommandPause] = errors.New("connection refused")
	var refreshes int32
	d := New(exec, WithRefresh(func() { atomic.AddInt32(&refreshes, 1) }))

	result := d.Dispatch(context.Background(), 7, CommandPause)

	assert.False(t, result.OK)
	assert.Equal(t, "failed to pause job", result.Error)
	assert.False(t, d.Busy(7))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestDispatchServerMessagePassedThrough(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs[CommandRun] = &api.Error{Op: "run_job", StatusCode: http.StatusNotFound, Message: "job 7 not found"}
	d := New(exec)

	result := d.Dispatch(context.Background(), 7, CommandRun)
	assert.Equal(t, types.Fail("job 7 not found"), result)
}

func TestDispatchAtMostOneInFlightPerJob(t *testing.T) {
	exec := newFakeExecutor()
	release := exec.hold(7)
	var refreshes int32
	d := New(exec, WithRefresh(func() { atomic.AddInt32(&refreshes, 1) }))

	first := make(chan types.Result, 1)
	go func() { first <- d.Dispatch(context.Background(), 7, CommandRun) }()
	<-exec.entered

	assert.True(t, d.Busy(7))
	assert.Equal(t, []types.JobID{7}, d.InFlight())

	second := d.Dispatch(context.Background(), 7, CommandPause)
	assert.False(t, second.OK)
	assert.Equal(t, ErrBusy.Error(), second.Error)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes), "a rejected call does not refresh")

	release()
	assert.True(t, (<-first).OK)
	assert.Equal(t, 1, exec.callCount(7), "the rejected command never reached the executor")
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.Empty(t, d.InFlight())
}

func TestDispatchConcurrentSameJob(t *testing.T) {
	exec := newFakeExecutor()
	d := New(exec)

	var wg sync.WaitGroup
	var ok int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Dispatch(context.Background(), 3, CommandRun).OK {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, 1, exec.maxActive[3], "never more than one command in flight for a job")
	assert.Equal(t, int(atomic.LoadInt32(&ok)), len(exec.calls[3]))
}

func TestDispatchDifferentJobsIndependent(t *testing.T) {
	exec := newFakeExecutor()
	release1 := exec.hold(1)
	d := New(exec)

	done := make(chan types.Result, 1)
	go func() { done <- d.Dispatch(context.Background(), 1, CommandRun) }()
	<-exec.entered

	// job 2 is not blocked by job 1
	result := d.Dispatch(context.Background(), 2, CommandRun)
	assert.True(t, result.OK)
	<-exec.entered
	assert.True(t, d.Busy(1))
	assert.False(t, d.Busy(2))

	release1()
	assert.True(t, (<-done).OK)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	t.Run("declined is a no-op", func(t *testing.T) {
		exec := newFakeExecutor()
		var refreshes int32
		d := New(exec,
			WithConfirmer(always(false)),
			WithRefresh(func() { atomic.AddInt32(&refreshes, 1) }),
		)

		result := d.Dispatch(context.Background(), 4, CommandDelete)

		assert.False(t, result.OK)
		assert.Equal(t, ErrDeclined.Error(), result.Error)
		assert.Equal(t, 0, exec.callCount(4))
		assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes))
	})

	t.Run("no confirmer declines", func(t *testing.T) {
		exec := newFakeExecutor()
		d := New(exec)
		assert.False(t, d.Dispatch(context.Background(), 4, CommandDelete).OK)
		assert.Equal(t, 0, exec.callCount(4))
	})

	t.Run("confirmed", func(t *testing.T) {
		exec := newFakeExecutor()
		var asked []types.JobID
		d := New(exec, WithConfirmer(ConfirmFunc(func(_ context.Context, id types.JobID, cmd Command) bool {
			asked = append(asked, id)
			assert.Equal(t, CommandDelete, cmd)
			return true
		})))

		assert.True(t, d.Dispatch(context.Background(), 4, CommandDelete).OK)
		assert.Equal(t, []types.JobID{4}, asked)
		assert.Equal(t, 1, exec.callCount(4))
	})

	t.Run("other commands skip confirmation", func(t *testing.T) {
		exec := newFakeExecutor()
		d := New(exec, WithConfirmer(ConfirmFunc(func(context.Context, types.JobID, Command) bool {
			t.Fatal("confirmation should only be asked for delete")
			return false
		})))
		assert.True(t, d.Dispatch(context.Background(), 4, CommandStart).OK)
	})
}

func TestDeleteBusyJobNotConfirmed(t *testing.T) {
	exec := newFakeExecutor()
	release := exec.hold(5)
	asked := false
	d := New(exec, WithConfirmer(ConfirmFunc(func(context.Context, types.JobID, Command) bool {
		asked = true
		return true
	})))

	done := make(chan types.Result, 1)
	go func() { done <- d.Dispatch(context.Background(), 5, CommandRun) }()
	<-exec.entered

	result := d.Dispatch(context.Background(), 5, CommandDelete)
	assert.Equal(t, ErrBusy.Error(), result.Error)
	assert.False(t, asked)

	release()
	<-done
}

func TestDispatchRequiresSession(t *testing.T) {
	exec := newFakeExecutor()
	var refreshes int32
	d := New(exec,
		WithSession(gate(false)),
		WithRefresh(func() { atomic.AddInt32(&refreshes, 1) }),
	)

	result := d.Dispatch(context.Background(), 1, CommandStart)
	assert.Equal(t, types.Fail(ErrNotLoggedIn.Error()), result)
	assert.Equal(t, 0, exec.callCount(1))
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes))
}

func TestDispatchUnknownCommand(t *testing.T) {
	exec := newFakeExecutor()
	d := New(exec)

	result := d.Dispatch(context.Background(), 1, Command("restart"))
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "unknown command")
	assert.False(t, d.Busy(1))
}

func TestDispatchRecoversExecutorPanic(t *testing.T) {
	exec := newFakeExecutor()
	exec.panics = true
	var refreshes int32
	d := New(exec, WithRefresh(func() { atomic.AddInt32(&refreshes, 1) }))

	var result types.Result
	assert.NotPanics(t, func() {
		result = d.Dispatch(context.Background(), 9, CommandStart)
	})
	assert.Equal(t, types.Fail("failed to start job"), result)
	assert.False(t, d.Busy(9), "lock is released even when the executor panics")
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestDispatchTimeout(t *testing.T) {
	exec := newFakeExecutor()
	release := exec.hold(2)
	defer release()
	d := New(exec, WithTimeout(30*time.Millisecond))

	result := d.Dispatch(context.Background(), 2, CommandRun)
	assert.Equal(t, types.Fail("failed to run job"), result)
	assert.False(t, d.Busy(2))
}

func TestOnRefreshMultipleCallbacks(t *testing.T) {
	exec := newFakeExecutor()
	d := New(exec)
	var a, b int32
	d.OnRefresh(func() { atomic.AddInt32(&a, 1) })
	d.OnRefresh(func() { atomic.AddInt32(&b, 1) })
	d.OnRefresh(nil)

	d.Dispatch(context.Background(), 1, CommandRun)
	d.Dispatch(context.Background(), 1, CommandRun)

	assert.Equal(t, int32(2), atomic.LoadInt32(&a))
	assert.Equal(t, int32(2), atomic.LoadInt32(&b))
}

// ============================================================================
// 與 API 伺服器整合
// ============================================================================

func TestDispatchAgainstServer(t *testing.T) {
	fake, srv := schedtest.NewTestServer()
	defer srv.Close()
	fake.AddUser("alice", "secret", "Alice")
	token := fake.IssueToken("alice")
	job := fake.AddJob(types.CreateJobRequest{Project: "p", Name: "n", Cron: "* * * * *", URL: "http://x", Method: types.MethodGet})

	client := api.New(srv.URL, api.TokenFunc(func() string { return token }))
	d := New(client, WithConfirmer(always(true)))

	release := fake.Block(schedtest.RouteRunJob)
	done := make(chan types.Result, 1)
	go func() { done <- d.Dispatch(context.Background(), job.ID, CommandRun) }()

	require.Eventually(t, func() bool { return d.Busy(job.ID) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ErrBusy.Error(), d.Dispatch(context.Background(), job.ID, CommandRun).Error)

	release()
	assert.True(t, (<-done).OK)
	assert.Equal(t, 1, fake.Calls(schedtest.RouteRunJob))
	assert.Equal(t, 1, fake.LogCount())

	assert.True(t, d.Dispatch(context.Background(), job.ID, CommandDelete).OK)
	result := d.Dispatch(context.Background(), job.ID, CommandPause)
	assert.Equal(t, types.Fail("job 1 not found"), result)
}
