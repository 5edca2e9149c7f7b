package vault

import (
	"errors"
	"sync"
)

// ErrClosed is returned by a Guarded whose vault has been closed.
var ErrClosed = errors.New("vault handle closed")

// Guarded serializes access to a single Vault shared by concurrent callers.
// At most one function runs against the vault at a time.
type Guarded struct {
	mu sync.Mutex
	v  *Vault
}

// NewGuarded takes ownership of v.
func NewGuarded(v *Vault) *Guarded {
	return &Guarded{v: v}
}

// Do runs fn with exclusive access to the vault. fn must not retain v.
func (g *Guarded) Do(fn func(v *Vault) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.v == nil {
		return ErrClosed
	}
	return fn(g.v)
}

// Lock replaces the vault with a locked duplicate of itself.
func (g *Guarded) Lock() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.v == nil {
		return ErrClosed
	}
	locked, err := g.v.Duplicate()
	if err != nil {
		return err
	}
	return g.swapLocked(locked)
}

// swapLocked installs v and closes the previous vault. g.mu must be held.
func (g *Guarded) swapLocked(v *Vault) error {
	old := g.v
	g.v = v
	if old != nil && old != v {
		return old.Close()
	}
	return nil
}

// Close closes the vault. Later calls to Do fail with ErrClosed.
func (g *Guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.v == nil {
		return nil
	}
	return g.swapLocked(nil)
}
