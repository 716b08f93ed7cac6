package worker

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	ErrLimiterConcurrency = errors.New("error running routine, reached concurrency limit")
	ErrLimiterDrain       = errors.New("draining routines")
)

// Limiter runs routines in goroutines, at most concurrency of them at once.
//
// Dispatch never blocks, a routine over the limit is refused and the caller
// decides whether to run it inline or drop it.
type Limiter struct {
	// slots holds a token per running routine.
	slots chan struct{}
	// wg tracks running routines for StopWait.
	wg sync.WaitGroup
	// mu guards draining, held for reading while a routine is being added.
	mu       sync.RWMutex
	draining bool
	active   atomic.Int32
}

// NewLimiter returns a Limiter running at most concurrency routines.
// StopWait should be invoked to wait for the routines to return.
func NewLimiter(concurrency int) *Limiter {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Limiter{slots: make(chan struct{}, concurrency)}
}

// Dispatch runs f in a new goroutine, any error handling must be wrapped in f by the caller.
func (l *Limiter) Dispatch(f func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.draining {
		return ErrLimiterDrain
	}

	select {
	case l.slots <- struct{}{}:
	default:
		return ErrLimiterConcurrency
	}

	l.wg.Add(1)
	l.active.Add(1)

	go func() {
		defer func() {
			l.active.Add(-1)
			<-l.slots
			l.wg.Done()
		}()

		f()
	}()

	return nil
}

// ActiveCount returns the count of running routines.
func (l *Limiter) ActiveCount() int {
	return int(l.active.Load())
}

// Draining returns true once StopWait was invoked.
func (l *Limiter) Draining() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.draining
}

// StopWait refuses any further routines and waits until the running routines return.
func (l *Limiter) StopWait() {
	l.mu.Lock()
	l.draining = true
	l.mu.Unlock()

	l.wg.Wait()
}
