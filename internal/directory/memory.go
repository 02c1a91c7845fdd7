package directory

import (
	"context"
	"sync"

	"github.com/seglab/cohort/internal/rules"
)

// Compile-time check to verify that MemoryDirectory implements Directory.
var _ Directory = (*MemoryDirectory)(nil)

// MemoryDirectory is an in-process Directory backed by a slice. It serves
// unit tests and local development; matching is a plain scan with the
// compiled predicate.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users []User
}

// NewMemoryDirectory creates a directory pre-loaded with the given users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{}
	d.users = append(d.users, users...)
	return d
}

// Add appends users to the directory.
func (d *MemoryDirectory) Add(users ...User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, users...)
}

// FindMatching scans every record and returns the matching subset in
// insertion order.
func (d *MemoryDirectory) FindMatching(ctx context.Context, pred *rules.Predicate) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matched := make([]User, 0)
	for _, u := range d.users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pred.Match(u) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}
