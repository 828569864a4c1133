package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jdziat/simple-durable-ops/pkg/metrics"
)

// Pool runs tasks on a fixed number of goroutines with a bounded backlog.
// Submit never blocks: when every goroutine is busy and the backlog is full
// the task is rejected.
type Pool struct {
	tasks   chan func()
	logger  *slog.Logger
	metrics *metrics.Collector
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	pending int
	waiters []chan struct{}

	active atomic.Int64
}

// NewPool starts a pool. Only Threads, QueueSize, WithLogger and WithMetrics
// apply.
func NewPool(opts ...Option) *Pool {
	cfg := newConfig(opts)
	p := &Pool{
		tasks:   make(chan func(), cfg.QueueSize),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	for i := 0; i < cfg.Threads; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	return p
}

// Submit hands task to the pool. It returns false when the pool is saturated
// or closed.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		p.pending++
		p.report()
		return true
	default:
		return false
	}
}

// Drain blocks until every accepted task has finished or ctx is done.
// Tasks submitted while draining extend the wait.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.pending == 0 {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of running and waiting tasks.
func (p *Pool) Stats() (active, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := int(p.active.Load())
	q := p.pending - a
	if q < 0 {
		q = 0
	}
	return a, q
}

// Close stops accepting tasks and waits for accepted ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.active.Add(1)
		p.run(task)
		p.active.Add(-1)
		p.finish()
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "error", fmt.Errorf("panic: %v", r))
		}
	}()
	task()
}

func (p *Pool) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 {
		for _, ch := range p.waiters {
			close(ch)
		}
		p.waiters = nil
	}
	p.report()
}

// report must be called with mu held.
func (p *Pool) report() {
	if p.metrics == nil {
		return
	}
	a := int(p.active.Load())
	q := p.pending - a
	if q < 0 {
		q = 0
	}
	p.metrics.UpdatePoolStats(a, q)
}
