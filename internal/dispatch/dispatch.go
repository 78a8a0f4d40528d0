// Package dispatch runs collaborator calls on a fixed set of workers so a
// burst of selections cannot open an unbounded number of requests.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/rental-discovery/internal/metrics"
)

type Job struct {
	// Key deduplicates jobs: while a job with the same key is queued or
	// running, another one is refused. An empty key is never deduplicated.
	Key string
	Run func(ctx context.Context)
}

type Pool struct {
	ch      chan Job
	inFly   sync.Map // key -> struct{}
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(capacity, workerCount int, timeout time.Duration) *Pool {
	if capacity <= 0 {
		capacity = 256
	}
	if workerCount <= 0 {
		workerCount = 4
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ch: make(chan Job, capacity), timeout: timeout, ctx: ctx, cancel: cancel}
	p.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go p.worker()
	}
	return p
}

// Enqueue hands j to a worker. It returns false when the job is a duplicate
// of one in flight, the queue is saturated, or the pool is closed.
func (p *Pool) Enqueue(j Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.DispatchDropped.WithLabelValues("closed").Inc()
		return false
	}
	if j.Key != "" {
		if _, exists := p.inFly.LoadOrStore(j.Key, struct{}{}); exists {
			metrics.DispatchDropped.WithLabelValues("duplicate").Inc()
			return false
		}
	}
	select {
	case p.ch <- j:
		metrics.DispatchQueued.Inc()
		return true
	default:
		if j.Key != "" {
			p.inFly.Delete(j.Key)
		}
		metrics.DispatchDropped.WithLabelValues("saturated").Inc()
		return false
	}
}

// Dispatch is Enqueue in the shape sessions expect.
func (p *Pool) Dispatch(key string, run func(ctx context.Context)) bool {
	return p.Enqueue(Job{Key: key, Run: run})
}

// Close stops accepting jobs, cancels running ones, and waits for the
// workers to drain the queue.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.ch {
		p.run(j)
	}
}

func (p *Pool) run(j Job) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer func() {
		if j.Key != "" {
			p.inFly.Delete(j.Key)
		}
		metrics.DispatchQueued.Dec()
		cancel()
	}()
	if j.Run != nil {
		j.Run(ctx)
	}
}
