package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadfisher/idea-lsp/internal/scheduler"
)

func TestExecutorRunsOneTaskAtATime(t *testing.T) {
	e := scheduler.NewExecutor("test", 16)
	defer e.Stop()

	var running, peak, count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Submit(context.Background(), scheduler.Task{
				Name: "write",
				Execute: func(context.Context) error {
					if n := running.Add(1); n > peak.Load() {
						peak.Store(n)
					}
					time.Sleep(time.Millisecond)
					count.Add(1)
					running.Add(-1)
					return nil
				},
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), count.Load())
	assert.Equal(t, int32(1), peak.Load())
}

func TestExecutorReturnsTaskError(t *testing.T) {
	e := scheduler.NewExecutor("test", 1)
	defer e.Stop()

	boom := errors.New("boom")
	err := e.Submit(context.Background(), scheduler.Task{
		Name:    "fail",
		Execute: func(context.Context) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestExecutorNestedSubmitRunsInline(t *testing.T) {
	e := scheduler.NewExecutor("test", 1)
	defer e.Stop()

	ran := false
	err := e.Submit(context.Background(), scheduler.Task{
		Name: "outer",
		Execute: func(ctx context.Context) error {
			return e.Submit(ctx, scheduler.Task{
				Name: "inner",
				Execute: func(context.Context) error {
					ran = true
					return nil
				},
			})
		},
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestExecutorRecoversPanics(t *testing.T) {
	e := scheduler.NewExecutor("test", 1)
	defer e.Stop()

	err := e.Submit(context.Background(), scheduler.Task{
		Name:    "panic",
		Execute: func(context.Context) error { panic("bad") },
	})
	assert.ErrorContains(t, err, "panicked")
}

func TestExecutorRejectsAfterStop(t *testing.T) {
	e := scheduler.NewExecutor("test", 1)
	e.Stop()
	err := e.Submit(context.Background(), scheduler.Task{
		Name:    "late",
		Execute: func(context.Context) error { return nil },
	})
	assert.ErrorIs(t, err, scheduler.ErrStopped)
}

func TestPoolRunsConcurrently(t *testing.T) {
	p := scheduler.NewPool(4)

	var running, peak atomic.Int32
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Go(context.Background(), scheduler.Task{
			Name: "block",
			Execute: func(context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				started.Done()
				<-release
				running.Add(-1)
				return nil
			},
		}))
	}
	started.Wait()
	close(release)
	p.Stop()
	assert.Equal(t, int32(4), peak.Load())
}

func TestPoolGoDoesNotBlockWhenBusy(t *testing.T) {
	p := scheduler.NewPool(1)
	release := make(chan struct{})
	require.NoError(t, p.Go(context.Background(), scheduler.Task{
		Name:    "busy",
		Execute: func(context.Context) error { <-release; return nil },
	}))

	var ran atomic.Int32
	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for i := 0; i < 1000; i++ {
			p.Go(context.Background(), scheduler.Task{
				Name:    "queued",
				Execute: func(context.Context) error { ran.Add(1); return nil },
			})
		}
	}()
	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("Go blocked while the worker was busy")
	}
	assert.Zero(t, ran.Load())

	close(release)
	p.Stop()
	assert.Equal(t, int32(1000), ran.Load())
	assert.ErrorIs(t, p.Go(context.Background(), scheduler.Task{Name: "late"}), scheduler.ErrStopped)
}

func TestKeyedQueuePreservesOrderPerKey(t *testing.T) {
	q := scheduler.NewKeyedQueue()

	var mu sync.Mutex
	got := map[string][]int{}
	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			i, key := i, key
			q.Enqueue(context.Background(), key, scheduler.Task{
				Name: "record",
				Execute: func(context.Context) error {
					mu.Lock()
					got[key] = append(got[key], i)
					mu.Unlock()
					return nil
				},
			})
		}
	}
	q.Wait()
	for _, key := range []string{"a", "b"} {
		require.Len(t, got[key], 50)
		for i, v := range got[key] {
			assert.Equal(t, i, v)
		}
	}
}

func TestKeyedQueueBarrier(t *testing.T) {
	q := scheduler.NewKeyedQueue()

	release := make(chan struct{})
	var done atomic.Bool
	q.Enqueue(context.Background(), "doc", scheduler.Task{
		Name: "slow",
		Execute: func(context.Context) error {
			<-release
			done.Store(true)
			return nil
		},
	})

	barrier := q.Barrier("doc")
	select {
	case <-barrier:
		t.Fatal("barrier passed before pending task finished")
	case <-time.After(20 * time.Millisecond):
	}

	other := q.Barrier("other")
	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("barrier on idle key should pass immediately")
	}

	close(release)
	<-barrier
	assert.True(t, done.Load())

	<-q.BarrierAll()
}
