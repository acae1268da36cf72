package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("idea-lsp.scheduler")

// ErrStopped is returned for tasks submitted after Stop.
var ErrStopped = errors.New("scheduler stopped")

type Task struct {
	Name    string
	Execute func(ctx context.Context) error
}

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

// Executor runs tasks one at a time on a single goroutine, in submission
// order. Submit blocks until the task has run.
type Executor struct {
	name      string
	taskQueue chan job
	stopChan  chan struct{}
	mu        sync.RWMutex
	stopped   bool
	wg        sync.WaitGroup
}

type executorKey struct{}

// NewExecutor creates an Executor with the specified queue size and starts
// its loop.
func NewExecutor(name string, queueSize int) *Executor {
	e := &Executor{
		name:      name,
		taskQueue: make(chan job, queueSize),
		stopChan:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case j := <-e.taskQueue:
			e.execute(j)
		case <-e.stopChan:
			// Drain what was already accepted.
			for {
				select {
				case j := <-e.taskQueue:
					e.execute(j)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) execute(j job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	log.Debugf("%s: executing %s", e.name, j.task.Name)
	ctx := context.WithValue(j.ctx, executorKey{}, e)
	j.done <- runTask(ctx, j.task)
}

// Submit queues the task and waits for its result. A task submitted from a
// task already running on this executor runs inline, so nested writes do not
// deadlock.
func (e *Executor) Submit(ctx context.Context, task Task) error {
	if ctx.Value(executorKey{}) == e {
		return runTask(ctx, task)
	}
	j := job{ctx: ctx, task: task, done: make(chan error, 1)}

	e.mu.RLock()
	if e.stopped {
		e.mu.RUnlock()
		return ErrStopped
	}
	select {
	case e.taskQueue <- j:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return ctx.Err()
	}
	// A queued job is always answered by the loop, including during drain.
	return <-j.done
}

// Stop waits for accepted tasks to complete and stops the loop.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.stopped {
		log.Debugf("%s: stopping", e.name)
		e.stopped = true
		close(e.stopChan)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Execute(ctx)
}
