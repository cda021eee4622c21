package dispatch

import (
	"context"
	"sync"
	"time"

	automation "github.com/goliatone/go-automation"
)

// delayQueue runs one goroutine per scheduled dispatch, the same shape the
// one-shot schedule path uses elsewhere in the engine. Delayed dispatches are
// in-process only: executions are durable, timers are not.
type delayQueue struct {
	logger automation.Logger

	mu      sync.Mutex
	nextID  int64
	cancels map[int64]chan struct{}
	stopped bool
}

func newDelayQueue(logger automation.Logger) *delayQueue {
	return &delayQueue{
		logger:  automation.NormalizeLogger(logger),
		cancels: make(map[int64]chan struct{}),
	}
}

func (q *delayQueue) schedule(at time.Time, fire func(ctx context.Context)) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.nextID++
	id := q.nextID
	cancel := make(chan struct{})
	q.cancels[id] = cancel
	q.mu.Unlock()

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-cancel:
			return
		}

		q.mu.Lock()
		delete(q.cancels, id)
		q.mu.Unlock()

		fire(context.Background())
	}()
}

func (q *delayQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cancels)
}

func (q *delayQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	for id, cancel := range q.cancels {
		close(cancel)
		delete(q.cancels, id)
	}
}
