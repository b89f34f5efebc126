// Package dispatch moves claimed monitor ids from the scheduler to the
// worker pool, either in process or through a shared Redis list.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned by Enqueue when the queue cannot accept another
// id. The claim lease makes a dropped monitor due again, so callers skip.
var ErrQueueFull = errors.New("dispatch queue is full")

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("dispatch queue is closed")

// Queue carries monitor ids from the claim loop to the workers.
type Queue interface {
	// Enqueue hands one monitor id to the queue without blocking.
	Enqueue(ctx context.Context, monitorID int64) error

	// Dequeue blocks until an id is available, the queue closes, or the
	// context is done.
	Dequeue(ctx context.Context) (int64, error)

	// Depth reports the number of pending ids.
	Depth(ctx context.Context) (int, error)

	// Transport names the queue implementation for logs and metrics.
	Transport() string

	Close() error
}

// Local is an in-process queue backed by a buffered channel. It is the
// default transport when scheduler and workers share a process.
type Local struct {
	ch        chan int64
	closeOnce sync.Once
}

// NewLocal creates a local queue with the given capacity.
func NewLocal(capacity int) *Local {
	if capacity <= 0 {
		capacity = 1
	}
	return &Local{ch: make(chan int64, capacity)}
}

func (l *Local) Enqueue(ctx context.Context, monitorID int64) error {
	select {
	case l.ch <- monitorID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *Local) Dequeue(ctx context.Context) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case id, ok := <-l.ch:
		if !ok {
			return 0, ErrQueueClosed
		}
		return id, nil
	}
}

func (l *Local) Depth(ctx context.Context) (int, error) {
	return len(l.ch), nil
}

func (l *Local) Transport() string { return "local" }

func (l *Local) Close() error {
	l.closeOnce.Do(func() { close(l.ch) })
	return nil
}
