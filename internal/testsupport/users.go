package testsupport

import (
	"fmt"
	"strings"
	"time"

	"github.com/seglab/cohort/internal/directory"
)

// UserBuilder assembles a directory.User fixture with nested attributes.
// The zero builder is not usable; start with NewUser.
type UserBuilder struct {
	user directory.User
}

// NewUser starts a fixture for the given user id.
func NewUser(id string) *UserBuilder {
	return &UserBuilder{user: directory.User{
		ID:         id,
		Attributes: map[string]any{},
	}}
}

// WithAttr sets a dotted attribute path, creating intermediate maps as
// needed. WithAttr("purchases.total_spent", 120.5) yields
// {"purchases": {"total_spent": 120.5}}.
func (b *UserBuilder) WithAttr(path string, value any) *UserBuilder {
	node := b.user.Attributes
	for {
		head, rest, more := strings.Cut(path, ".")
		if !more {
			node[head] = value
			return b
		}
		child, ok := node[head].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[head] = child
		}
		node = child
		path = rest
	}
}

// WithCountry is shorthand for the location country attribute.
func (b *UserBuilder) WithCountry(country string) *UserBuilder {
	return b.WithAttr("location.country", country)
}

// WithTotalSpent is shorthand for the purchase total attribute.
func (b *UserBuilder) WithTotalSpent(amount float64) *UserBuilder {
	return b.WithAttr("purchases.total_spent", amount)
}

// WithLastActive is shorthand for the activity recency attribute, stored as
// an RFC3339 string the way the ingestion pipeline writes it.
func (b *UserBuilder) WithLastActive(at time.Time) *UserBuilder {
	return b.WithAttr("activity.last_active_at", at.Format(time.RFC3339))
}

// WithDevices registers device tokens.
func (b *UserBuilder) WithDevices(tokens ...string) *UserBuilder {
	b.user.DeviceTokens = append(b.user.DeviceTokens, tokens...)
	return b
}

// Build returns the assembled user.
func (b *UserBuilder) Build() directory.User {
	return b.user
}

// BuildUsers generates n users via the customize callback, with ids
// user-0 .. user-n-1.
func BuildUsers(n int, customize func(i int, b *UserBuilder)) []directory.User {
	users := make([]directory.User, n)
	for i := range users {
		b := NewUser(fmt.Sprintf("user-%d", i))
		if customize != nil {
			customize(i, b)
		}
		users[i] = b.Build()
	}
	return users
}
