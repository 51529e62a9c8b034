package xdcc

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal is a one-shot, monotonic cancellation flag shared by the control
// loop and every transfer worker. The zero value is not usable; use NewSignal.
type Signal struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Cancel sets the signal. Calls after the first are no-ops.
func (s *Signal) Cancel() {
	s.once.Do(func() {
		s.set.Store(true)
		close(s.done)
	})
}

func (s *Signal) Cancelled() bool {
	return s.set.Load()
}

// Done is closed once Cancel has been called.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Bind cancels the signal when ctx is done. The returned func releases the
// watcher without cancelling.
func (s *Signal) Bind(ctx context.Context) (stop func()) {
	release := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-release:
		case <-s.done:
		}
	}()
	return func() { once.Do(func() { close(release) }) }
}

// Follow cancels s when parent fires. The returned func releases the watcher
// without cancelling either signal.
func (s *Signal) Follow(parent *Signal) (release func()) {
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-parent.done:
			s.Cancel()
		case <-stop:
		case <-s.done:
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

// Context derives a context that is cancelled when the signal fires.
func (s *Signal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
