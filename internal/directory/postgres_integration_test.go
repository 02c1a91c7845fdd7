//go:build integration

package directory_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seglab/cohort/internal/directory"
	"github.com/seglab/cohort/internal/rules"
	"github.com/seglab/cohort/internal/testsupport"
)

// TestPostgresDirectory_Integration verifies that the JSONB push-down never
// changes results: whatever the database pre-filters, the in-process
// re-evaluation must produce the same member set a plain scan would.
func TestPostgresDirectory_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	insertUser := func(t *testing.T, u directory.User) {
		t.Helper()
		attrs, err := json.Marshal(u.Attributes)
		require.NoError(t, err)
		_, err = pgContainer.DB.Exec(ctx,
			`INSERT INTO users (id, attributes, device_tokens) VALUES ($1, $2, $3)`,
			u.ID, attrs, u.DeviceTokens,
		)
		require.NoError(t, err)
	}

	insertUser(t, testsupport.NewUser("u1").WithCountry("BR").WithTotalSpent(250).WithDevices("tok-1").Build())
	insertUser(t, testsupport.NewUser("u2").WithCountry("BR").WithTotalSpent(40).Build())
	insertUser(t, testsupport.NewUser("u3").WithCountry("AR").WithTotalSpent(900).Build())
	// Numeric attribute stored as a string, the shape older ingests wrote.
	insertUser(t, testsupport.NewUser("u4").WithCountry("BR").WithAttr("purchases.total_spent", "300").Build())
	// The reverse shape: a number where rules expect a string, and a raw
	// boolean where rule payloads carry "true".
	insertUser(t, testsupport.NewUser("u5").WithAttr("devices.model", 123).Build())
	insertUser(t, testsupport.NewUser("u6").WithAttr("preferences.opted_in", true).Build())

	dir := directory.NewPostgresDirectory(pgContainer.DB)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	find := func(t *testing.T, rs ...rules.Rule) []string {
		t.Helper()
		pred, err := rules.Compile(rs, log)
		require.NoError(t, err)
		users, err := dir.FindMatching(ctx, pred)
		require.NoError(t, err)
		ids := make([]string, len(users))
		for i, u := range users {
			ids[i] = u.ID
		}
		return ids
	}

	t.Run("Should match exact string equals via containment push-down", func(t *testing.T) {
		ids := find(t, rules.Rule{Type: rules.TypeLocation, Field: "country", Operator: rules.OpEquals, Value: "AR"})
		assert.Equal(t, []string{"u3"}, ids)
	})

	t.Run("Should match numeric comparisons across storage shapes", func(t *testing.T) {
		// u1 stores 250 as a number, u4 stores "300" as a string; both must
		// match because coercion happens in-process, not in SQL.
		ids := find(t, rules.Rule{Type: rules.TypePurchase, Field: "totalSpent", Operator: rules.OpGreaterThan, Value: 100})
		assert.Equal(t, []string{"u1", "u3", "u4"}, ids)
	})

	t.Run("Should AND pushed and in-process rules", func(t *testing.T) {
		ids := find(t,
			rules.Rule{Type: rules.TypeLocation, Field: "country", Operator: rules.OpEquals, Value: "BR"},
			rules.Rule{Type: rules.TypePurchase, Field: "totalSpent", Operator: rules.OpGreaterThan, Value: 100},
		)
		assert.Equal(t, []string{"u1", "u4"}, ids)
	})

	t.Run("Should honor set membership", func(t *testing.T) {
		ids := find(t, rules.Rule{Type: rules.TypeLocation, Field: "country", Operator: rules.OpIn, Value: []any{"AR", "CL"}})
		assert.Equal(t, []string{"u3"}, ids)
	})

	t.Run("Should treat a missing attribute as absent", func(t *testing.T) {
		ids := find(t, rules.Rule{Type: rules.TypePreference, Field: "optedIn", Operator: rules.OpExists})
		assert.Equal(t, []string{"u6"}, ids)

		ids = find(t, rules.Rule{Type: rules.TypePreference, Field: "optedIn", Operator: rules.OpNotExists})
		assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5"}, ids)
	})

	t.Run("Should keep notContains rows whose attribute is not a string", func(t *testing.T) {
		// u5 stores the model as the number 123. Substring checks apply to
		// strings only, so '123' must not be excluded for containing "2".
		ids := find(t, rules.Rule{Type: rules.TypeDevice, Field: "model", Operator: rules.OpNotContains, Value: "2"})
		assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5", "u6"}, ids)
	})

	t.Run("Should match bool-ish equals across JSON types", func(t *testing.T) {
		// u6 stores a raw boolean; the rule payload carries the string form.
		// Loose equality bridges the types, so this rule must not be pushed
		// down as containment.
		ids := find(t, rules.Rule{Type: rules.TypePreference, Field: "optedIn", Operator: rules.OpEquals, Value: "true"})
		assert.Equal(t, []string{"u6"}, ids)
	})

	t.Run("Should return device tokens with the member", func(t *testing.T) {
		pred, err := rules.Compile([]rules.Rule{
			{Type: rules.TypePurchase, Field: "totalSpent", Operator: rules.OpGreaterThan, Value: 200},
		}, log)
		require.NoError(t, err)

		users, err := dir.FindMatching(ctx, pred)
		require.NoError(t, err)

		require.NotEmpty(t, users)
		assert.Equal(t, "u1", users[0].ID)
		assert.Equal(t, []string{"tok-1"}, users[0].DeviceTokens)
	})
}
