package scheduler

import (
	"context"
	"sync"
)

// Pool runs tasks on a fixed number of worker goroutines. Results are not
// returned to the submitter; tasks report through their own callbacks.
// Submission never blocks: tasks beyond the idle workers wait in a backlog.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []job
	stopped bool
	wg      sync.WaitGroup
}

// NewPool starts workers goroutines.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		if err := runTask(j.ctx, j.task); err != nil {
			log.Debugf("pool: %s: %s", j.task.Name, err)
		}
	}
}

// next waits for a queued task. It reports false once the pool is stopped
// and drained.
func (p *Pool) next() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.backlog) == 0 && !p.stopped {
		p.cond.Wait()
	}
	if len(p.backlog) == 0 {
		return job{}, false
	}
	j := p.backlog[0]
	p.backlog[0] = job{}
	p.backlog = p.backlog[1:]
	return j, true
}

// Go queues the task and returns immediately.
func (p *Pool) Go(ctx context.Context, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	p.backlog = append(p.backlog, job{ctx: ctx, task: task})
	p.cond.Signal()
	return nil
}

// Stop lets the workers finish queued tasks and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
