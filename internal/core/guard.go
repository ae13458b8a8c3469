package core

import (
	"sync"
	"sync/atomic"
)

// ExclusivityGuard admits one state-mutating operation at a time. It never
// waits: a second caller gets ErrBusy.
type ExclusivityGuard struct {
	busy atomic.Bool
}

// Handle is held for the duration of one guarded operation.
type Handle struct {
	guard *ExclusivityGuard
	once  sync.Once
}

// Acquire takes the guard or fails with ErrBusy. Callers defer Release.
func (g *ExclusivityGuard) Acquire() (*Handle, error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return &Handle{guard: g}, nil
}

// Release frees the guard. Safe to call more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.guard.busy.Store(false)
	})
}

// Held reports whether an operation is in progress.
func (g *ExclusivityGuard) Held() bool {
	return g.busy.Load()
}
