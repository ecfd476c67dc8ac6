package blockio

import (
	"context"
	"sync"
)

// Gate is the mutual-exclusion primitive guarding each of
// the two shared resources (the block I/O handle and the Context). Two
// implementations are provided so the same operation surface works whether
// the caller is in a purely synchronous ("blocking") build or a
// cooperatively-scheduled one: the choice is made once at construction,
// which is the idiomatic Go rendition of the original's compile-time
// cfg(feature = "async") split.
type Gate interface {
	// Lock acquires the gate, blocking (or suspending, for the cooperative
	// flavor) until it is available or ctx is done.
	Lock(ctx context.Context) error
	// Unlock releases the gate. Must be called exactly once per successful
	// Lock.
	Unlock()
}

// NewBlockingGate returns a Gate backed by a plain sync.Mutex: Lock never
// suspends a goroutine's logical task, it simply blocks the calling
// goroutine, which is the correct choice for hosted, thread-per-task use.
func NewBlockingGate() Gate {
	return &blockingGate{}
}

type blockingGate struct {
	mu sync.Mutex
}

func (g *blockingGate) Lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	return nil
}

func (g *blockingGate) Unlock() {
	g.mu.Unlock()
}

// NewCooperativeGate returns a Gate backed by a buffered channel of
// capacity 1, the standard Go idiom for an async-aware mutex: acquiring it
// is a select between sending the token and ctx.Done(), so a task waiting
// on the gate can be cancelled instead of blocking a whole OS thread. This
// is the "suspension point" the cooperative build flavor needs instead
// of blocking.
func NewCooperativeGate() Gate {
	g := &cooperativeGate{tokens: make(chan struct{}, 1)}
	g.tokens <- struct{}{}
	return g
}

type cooperativeGate struct {
	tokens chan struct{}
}

func (g *cooperativeGate) Lock(ctx context.Context) error {
	select {
	case <-g.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *cooperativeGate) Unlock() {
	g.tokens <- struct{}{}
}
