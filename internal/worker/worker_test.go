package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitIdle 等待已提交的任务全部执行
func waitIdle(t *testing.T, p *Pool) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := p.GetStats()
		return st.Executed == st.Submitted
	}, 2*time.Second, 5*time.Millisecond)
}

// occupy 占住全部 worker，返回释放函数
func occupy(t *testing.T, p *Pool) func() {
	t.Helper()
	release := make(chan struct{})
	var started sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		started.Add(1)
		require.True(t, p.Submit(func() {
			started.Done()
			<-release
		}))
	}
	started.Wait()
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func TestPool_PanickingTaskDoesNotKillWorker(t *testing.T) {
	p := NewPool(1, 10)
	defer p.Stop()

	var ran atomic.Int32
	p.Submit(func() { panic("cache warm failed") })
	p.Submit(func() { ran.Add(1) })
	p.Submit(func() { panic(errors.New("orphan delete failed")) })
	p.Submit(func() { ran.Add(1) })

	waitIdle(t, p)
	st := p.GetStats()
	assert.EqualValues(t, 2, ran.Load())
	assert.EqualValues(t, 4, st.Executed)
	assert.EqualValues(t, 2, st.Failed)
}

func TestPool_FullQueueDropsAndCounts(t *testing.T) {
	p := NewPool(1, 2)
	release := occupy(t, p)
	defer p.Stop()
	defer release()

	assert.True(t, p.Submit(func() {}))
	assert.True(t, p.Submit(func() {}))
	assert.False(t, p.Submit(func() {}))
	assert.False(t, p.SubmitDetached(time.Second, func(context.Context) {
		t.Error("dropped detached task must not run")
	}))

	st := p.GetStats()
	assert.EqualValues(t, 2, st.Dropped)
	assert.EqualValues(t, 3, st.Submitted)
	assert.Equal(t, 2, st.QueueLen)

	// 腾出队列后可以继续提交
	release()
	waitIdle(t, p)
	assert.True(t, p.Submit(func() {}))
	waitIdle(t, p)
	assert.EqualValues(t, 2, p.GetStats().Dropped)
}

func TestPool_SubmitDetachedIgnoresCallerCancellation(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Stop()

	request, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, request.Err())

	got := make(chan context.Context, 1)
	require.True(t, p.SubmitDetached(time.Minute, func(ctx context.Context) {
		got <- ctx
	}))

	select {
	case ctx := <-got:
		assert.NoError(t, ctx.Err())
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("detached task did not run")
	}
}

func TestPool_SubmitDetachedTimeoutExpires(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Stop()

	errc := make(chan error, 1)
	require.True(t, p.SubmitDetached(20*time.Millisecond, func(ctx context.Context) {
		<-ctx.Done()
		errc <- ctx.Err()
	}))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("detached context never expired")
	}
}

func TestPool_SubmitDetachedContextCancelledAfterTask(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Stop()

	got := make(chan context.Context, 1)
	require.True(t, p.SubmitDetached(time.Minute, func(ctx context.Context) { got <- ctx }))
	ctx := <-got

	waitIdle(t, p)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestPool_StopRunsQueuedTasksThenRejects(t *testing.T) {
	p := NewPool(1, 8)
	release := occupy(t, p)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, p.Submit(func() { ran.Add(1) }))
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was still running")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	<-stopped
	assert.EqualValues(t, 5, ran.Load())

	assert.False(t, p.Submit(func() {}))
	assert.False(t, p.SubmitDetached(time.Second, func(context.Context) {}))
	assert.NotPanics(t, p.Stop)
}

func TestPool_ConcurrentSubmitters(t *testing.T) {
	const submitters, each = 16, 50
	p := NewPool(4, submitters*each)
	defer p.Stop()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				p.Submit(func() { ran.Add(1) })
			}
		}()
	}
	wg.Wait()

	waitIdle(t, p)
	st := p.GetStats()
	assert.EqualValues(t, submitters*each, ran.Load())
	assert.EqualValues(t, submitters*each, st.Submitted)
	assert.Zero(t, st.Dropped)
}

func TestPool_NilTaskIsSkipped(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Stop()

	require.True(t, p.Submit(nil))
	require.True(t, p.Submit(func() {}))
	require.Eventually(t, func() bool { return p.GetStats().Executed == 1 }, time.Second, 5*time.Millisecond)

	st := p.GetStats()
	assert.EqualValues(t, 2, st.Submitted)
	assert.Zero(t, st.Failed)
}

func TestPool_Defaults(t *testing.T) {
	p := NewPool(0, -1)
	defer p.Stop()

	st := p.GetStats()
	assert.Positive(t, st.WorkerCount)
	assert.Equal(t, 1000, st.QueueCap)
}

func TestGlobalPool_InitOnce(t *testing.T) {
	t.Cleanup(StopGlobalPool)

	InitGlobalPool(1, 3)
	first := GetGlobalPool()
	require.NotNil(t, first)

	InitGlobalPool(8, 100)
	assert.Same(t, first, GetGlobalPool())
	assert.Equal(t, 3, first.GetStats().QueueCap)

	done := make(chan struct{})
	require.True(t, first.Submit(func() { close(done) }))
	<-done

	StopGlobalPool()
	assert.Nil(t, GetGlobalPool())
	assert.False(t, first.Submit(func() {}))
	assert.NotPanics(t, StopGlobalPool)
}
