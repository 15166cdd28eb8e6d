// Package directory resolves actor identities for the audit core. The ledger
// refuses entries from unknown actors, so every append consults a Directory.
// The backing user store (sessions, passwords, roles UI) lives outside this
// module; callers plug in their own implementation.
package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownPrincipal is returned when an actor ID does not resolve.
var ErrUnknownPrincipal = errors.New("unknown principal")

// Principal is an entity that may act on documents and trades.
type Principal struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// Directory looks up principals by ID.
type Directory interface {
	// Resolve returns the principal for id, or ErrUnknownPrincipal.
	Resolve(ctx context.Context, id string) (Principal, error)
	// List returns all known principal IDs, for bulk recomputation jobs.
	List(ctx context.Context) ([]string, error)
}

// MemoryDirectory is an in-memory Directory for tests and single-node use.
type MemoryDirectory struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

// NewMemoryDirectory creates a directory pre-populated with the given principals.
func NewMemoryDirectory(principals ...Principal) *MemoryDirectory {
	d := &MemoryDirectory{principals: make(map[string]Principal, len(principals))}
	for _, p := range principals {
		d.principals[p.ID] = p
	}
	return d
}

// Add registers a principal.
func (d *MemoryDirectory) Add(p Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.ID] = p
}

func (d *MemoryDirectory) Resolve(_ context.Context, id string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.principals[id]
	if !ok {
		return Principal{}, ErrUnknownPrincipal
	}
	return p, nil
}

func (d *MemoryDirectory) List(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.principals))
	for id := range d.principals {
		ids = append(ids, id)
	}
	return ids, nil
}
