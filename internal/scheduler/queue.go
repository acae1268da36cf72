package scheduler

import (
	"context"
	"sync"
)

// KeyedQueue runs tasks serially per key and concurrently across keys.
// Tasks with the same key run in the order they were enqueued.
type KeyedQueue struct {
	mu     sync.Mutex
	chains map[string]*chain
	wg     sync.WaitGroup
}

type chain struct {
	pending []job
}

func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{chains: make(map[string]*chain)}
}

// Enqueue appends the task to the key's chain without waiting for it.
func (q *KeyedQueue) Enqueue(ctx context.Context, key string, task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.wg.Add(1)
	j := job{ctx: ctx, task: task}
	if c, ok := q.chains[key]; ok {
		c.pending = append(c.pending, j)
		return
	}
	c := &chain{pending: []job{j}}
	q.chains[key] = c
	go q.drain(key, c)
}

func (q *KeyedQueue) drain(key string, c *chain) {
	for {
		q.mu.Lock()
		if len(c.pending) == 0 {
			delete(q.chains, key)
			q.mu.Unlock()
			return
		}
		j := c.pending[0]
		c.pending = c.pending[1:]
		q.mu.Unlock()

		if err := runTask(j.ctx, j.task); err != nil {
			log.Errorf("queue %s: %s: %s", key, j.task.Name, err)
		}
		q.wg.Done()
	}
}

// Barrier returns a channel closed once every task enqueued for key before
// the call has finished.
func (q *KeyedQueue) Barrier(key string) <-chan struct{} {
	done := make(chan struct{})
	q.mu.Lock()
	_, busy := q.chains[key]
	q.mu.Unlock()
	if !busy {
		close(done)
		return done
	}
	q.Enqueue(context.Background(), key, Task{
		Name: "barrier",
		Execute: func(context.Context) error {
			close(done)
			return nil
		},
	})
	return done
}

// BarrierAll is Barrier over every key that currently has pending work.
func (q *KeyedQueue) BarrierAll() <-chan struct{} {
	q.mu.Lock()
	keys := make([]string, 0, len(q.chains))
	for key := range q.chains {
		keys = append(keys, key)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, key := range keys {
			<-q.Barrier(key)
		}
		close(done)
	}()
	return done
}

// Wait blocks until every enqueued task has run.
func (q *KeyedQueue) Wait() {
	q.wg.Wait()
}
