package emulator

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Lifecycle tracks the goroutines and sockets owned by one emulator. Stop
// closes every tracked socket so blocked reads and accepts return, then
// waits for all goroutines.
type Lifecycle struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	closers map[io.Closer]struct{}
}

func NewLifecycle() *Lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		ctx:     ctx,
		cancel:  cancel,
		closers: map[io.Closer]struct{}{},
	}
}

// Context is cancelled on Stop.
func (l *Lifecycle) Context() context.Context {
	return l.ctx
}

func (l *Lifecycle) Stopped() bool {
	return l.stopped.Load()
}

func (l *Lifecycle) Go(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// Track registers c to be closed on Stop. It returns false, closing c, when
// the lifecycle is already stopped.
func (l *Lifecycle) Track(c io.Closer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped.Load() {
		c.Close()
		return false
	}
	l.closers[c] = struct{}{}
	return true
}

func (l *Lifecycle) Untrack(c io.Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.closers, c)
}

func (l *Lifecycle) Stop() {
	l.mu.Lock()
	if !l.stopped.CompareAndSwap(false, true) {
		l.mu.Unlock()
		return
	}
	l.cancel()
	for c := range l.closers {
		c.Close()
	}
	l.closers = map[io.Closer]struct{}{}
	l.mu.Unlock()

	l.wg.Wait()
}
