package executor

import (
	"context"
	"sync"
	"time"

	automation "github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

const (
	defaultWorkers      = 4
	defaultPollInterval = 250 * time.Millisecond
)

// Pool pulls runnable executions from the store and fans them out to worker
// goroutines. Serialization per (rule, correlation id) pair is the store's
// claim step, not the pool's concern.
type Pool struct {
	executor *Executor
	store    store.ExecutionStore
	logger   automation.Logger

	workers      int
	pollInterval time.Duration

	notify chan struct{}

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the worker count.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithPollInterval sets the store polling cadence.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(logger automation.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool constructs a stopped pool.
func NewPool(exec *Executor, st store.ExecutionStore, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:     exec,
		store:        st,
		workers:      defaultWorkers,
		pollInterval: defaultPollInterval,
		notify:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = automation.NormalizeLogger(p.logger)
	return p
}

// Notify wakes the polling loop ahead of the next tick. Safe from any
// goroutine; used by the dispatcher after enqueuing work.
func (p *Pool) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Start launches the polling loop in the background.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.stop = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.loop(runCtx)
	}()
	return nil
}

// Stop cancels the loop and waits for in-flight executions to settle or ctx
// to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stop := p.stop
	done := p.done
	p.mu.Unlock()

	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) loop(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("executor sweep failed: err=%v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.notify:
		}
	}
}

// RunOnce performs one claim-and-execute sweep and reports how many
// executions reached a terminal state.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	runnable, err := p.store.ListRunnable(ctx, p.workers*4)
	if err != nil {
		return 0, err
	}
	if len(runnable) == 0 {
		return 0, nil
	}

	ids := make(chan string, len(runnable))
	for _, exec := range runnable {
		ids <- exec.ID
	}
	close(ids)

	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0
	workers := p.workers
	if workers > len(runnable) {
		workers = len(runnable)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				if ctx.Err() != nil {
					return
				}
				exec, err := p.executor.RunExecution(ctx, id)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.Error("execution run failed: id=%s err=%v", id, err)
					}
					continue
				}
				if exec != nil && exec.Status.Terminal() {
					mu.Lock()
					processed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return processed, nil
}
