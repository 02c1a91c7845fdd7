// Package directory defines the user directory contract consumed by the
// segmentation resolver. The directory owns the user records and their
// registered push device tokens; this package ships an in-memory
// implementation for tests and fixtures and a PostgreSQL implementation
// with predicate push-down.
package directory

import (
	"context"
	"strings"

	"github.com/seglab/cohort/internal/rules"
)

// User is one record in the user directory. Attributes is an arbitrarily
// nested document; DeviceTokens are the user's push-capable endpoints.
type User struct {
	ID           string         `json:"id"`
	Attributes   map[string]any `json:"attributes"`
	DeviceTokens []string       `json:"device_tokens"`
}

// Attribute resolves a dotted path against the nested attribute document.
// It implements rules.Record. A null leaf counts as absent.
func (u User) Attribute(path string) (any, bool) {
	var current any = u.Attributes
	for path != "" {
		key, rest, _ := strings.Cut(path, ".")
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
		path = rest
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// Directory is the membership-resolution contract. FindMatching returns
// every user satisfying the compiled predicate; resolution can be
// long-running on large populations, so implementations must honor context
// cancellation.
type Directory interface {
	FindMatching(ctx context.Context, pred *rules.Predicate) ([]User, error)
}
