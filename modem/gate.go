package modem

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate serializes every access to the control line. It is held for one whole
// command/reply cycle or for one single-line poll, never longer.
//
// A Gate is not reentrant: acquiring it twice from the same goroutine
// deadlocks, like a sync.Mutex. Unlike a sync.Mutex, waiting for it can be
// abandoned through a context, and waiters are served in arrival order, so
// the notification feeder cannot starve a waiting command.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns an unlocked Gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the caller holds the Gate or ctx is done. A context
// that is already done never acquires.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.sem.Acquire(ctx, 1)
}

// Release hands the Gate back. Releasing an unlocked Gate panics.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Do runs fn while holding the Gate. The Gate is released on every exit
// path, including a panic in fn.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}
