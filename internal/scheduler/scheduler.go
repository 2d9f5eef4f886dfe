// Package scheduler runs deferred work on a bounded pool so the process can
// drain cleanly on shutdown instead of dropping in-flight side effects.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type job struct {
	name string
	fn   func(ctx context.Context)
}

// Pool defers work by a delay and executes it on a fixed number of workers.
// Delayed jobs that have not fired yet when Shutdown is called run
// immediately so their effects are not lost.
type Pool struct {
	workers int
	jobs    chan job
	log     *zap.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]job
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func NewPool(workers, queueSize int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: workers,
		jobs:    make(chan job, queueSize),
		log:     log.Named("scheduler"),
		timers:  make(map[*time.Timer]job),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.running.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.running.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("scheduled job panicked",
				zap.String("job", j.name),
				zap.Any("panic", r))
		}
	}()
	j.fn(p.ctx)
}

// Schedule queues fn after the delay. A zero delay enqueues immediately. A
// full queue degrades to running the job inline on the timer goroutine rather
// than dropping it.
func (p *Pool) Schedule(name string, delay time.Duration, fn func(ctx context.Context)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.log.Warn("job scheduled after shutdown", zap.String("job", name))
		return
	}
	if delay <= 0 {
		p.mu.Unlock()
		p.enqueue(job{name: name, fn: fn})
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		p.enqueue(job{name: name, fn: fn})
	})
	p.timers[timer] = job{name: name, fn: fn}
	p.mu.Unlock()
}

func (p *Pool) enqueue(j job) {
	select {
	case p.jobs <- j:
	default:
		p.log.Warn("scheduler queue full, running inline", zap.String("job", j.name))
		p.run(j)
	}
}

// Shutdown fires pending timers immediately, waits for queued jobs to finish,
// then cancels the job context.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	pending := make(map[*time.Timer]job, len(p.timers))
	for t, j := range p.timers {
		pending[t] = j
	}
	p.timers = make(map[*time.Timer]job)
	p.mu.Unlock()

	// Run not-yet-fired delayed jobs now instead of dropping their effects.
	// Stop reports whether it beat the timer; a fired timer sees closed and
	// never enqueues, so nothing runs twice.
	for t, j := range pending {
		if t.Stop() {
			p.run(j)
		}
	}
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
	p.cancel()
	return nil
}
