package observability

import "context"

// Checker is implemented by dependencies that can report whether they are
// usable right now. Check must honor ctx cancellation and be safe for
// concurrent use.
type Checker interface {
	// Name identifies the dependency in probe output, e.g. "postgres".
	Name() string
	// Check returns nil when the dependency is reachable and healthy.
	Check(ctx context.Context) error
}
