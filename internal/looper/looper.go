// Package looper provides the single owner goroutine that all controller and
// registry state is confined to.
package looper

import (
	"errors"
	"sync"

	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// ErrStopped is returned by Sync once the loop has stopped
var ErrStopped = errors.New("looper stopped")

// Executor runs closures on an owner goroutine
type Executor interface {
	Post(fn func())
}

// Looper executes posted closures one at a time in FIFO order.
// The queue is unbounded so tasks running on the loop may post more tasks.
type Looper struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	done chan struct{}
}

// New creates and starts a looper. sizeHint preallocates the queue.
func New(sizeHint int) *Looper {
	if sizeHint <= 0 {
		sizeHint = 64
	}
	l := &Looper{
		queue: make([]func(), 0, sizeHint),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Looper) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 {
			if l.stopped {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		batch := l.queue
		l.queue = make([]func(), 0, cap(batch))
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
	}
}

// invoke runs one task; a panicking task must not take the loop down
func (l *Looper) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().Interface("panic", r).Msg("Looper task panicked")
		}
	}()
	fn()
}

// Post queues fn. Tasks posted after Stop are dropped.
func (l *Looper) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		logger.Log.Debug().Msg("Dropping task posted to stopped looper")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Sync runs fn on the loop and waits for it to return.
// Must not be called from the loop itself.
func (l *Looper) Sync(fn func()) error {
	ran := make(chan struct{})

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, func() {
		defer close(ran)
		fn()
	})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	<-ran
	return nil
}

// Stop runs the tasks already queued and stops the loop.
// Safe to call more than once.
func (l *Looper) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}
