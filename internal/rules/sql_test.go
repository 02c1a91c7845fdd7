package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seglab/cohort/internal/rules"
)

func TestPrefilter_PushesExactStringEquals(t *testing.T) {
	t.Parallel()

	pred := mustCompile(t, rules.Rule{Type: rules.TypeLocation, Field: "country", Operator: rules.OpEquals, Value: "BR"})

	clause, args, covered := pred.Prefilter("attributes", 1)

	assert.Equal(t, `attributes @> $1::jsonb`, clause)
	require.Len(t, args, 1)
	assert.JSONEq(t, `{"location":{"country":"BR"}}`, args[0].(string))
	assert.Equal(t, 1, covered)
}

func TestPrefilter_SkipsNumericLookingEquals(t *testing.T) {
	t.Parallel()

	// The store may hold 42, "42" or "42.0"; containment can only match one
	// of those forms, so pushing it down would exclude legitimate matches.
	tests := []struct {
		name  string
		value any
	}{
		{"Should skip integer operand", 42},
		{"Should skip float operand", 42.0},
		{"Should skip numeric string operand", "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pred := mustCompile(t, rules.Rule{Type: rules.TypeDemographic, Field: "age", Operator: rules.OpEquals, Value: tt.value})

			clause, args, covered := pred.Prefilter("attributes", 1)

			assert.Empty(t, clause)
			assert.Empty(t, args)
			assert.Zero(t, covered)
		})
	}
}

func TestPrefilter_SkipsCrossTypeEquals(t *testing.T) {
	t.Parallel()

	// Loose equality matches "true" against a stored boolean true and "null"
	// against nothing at all; containment sees only one JSON type, so any
	// operand that is itself valid JSON stays in-process.
	tests := []struct {
		name  string
		value any
	}{
		{"Should skip boolean operand", true},
		{"Should skip bool-looking string operand", "true"},
		{"Should skip null-looking string operand", "null"},
		{"Should skip array-looking string operand", `["a"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pred := mustCompile(t, rules.Rule{Type: rules.TypePreference, Field: "optedIn", Operator: rules.OpEquals, Value: tt.value})

			clause, args, covered := pred.Prefilter("attributes", 1)

			assert.Empty(t, clause)
			assert.Empty(t, args)
			assert.Zero(t, covered)
		})
	}
}

func TestPrefilter_TranslatesContains(t *testing.T) {
	t.Parallel()

	t.Run("Should render ILIKE with escaped wildcards", func(t *testing.T) {
		t.Parallel()
		pred := mustCompile(t, rules.Rule{Type: rules.TypeDevice, Field: "model", Operator: rules.OpContains, Value: "100%_pixel"})

		clause, args, covered := pred.Prefilter("attributes", 1)

		assert.Equal(t, `attributes #>> '{devices,model}' ILIKE $1`, clause)
		require.Len(t, args, 1)
		assert.Equal(t, `%100\%\_pixel%`, args[0])
		assert.Equal(t, 1, covered)
	})

	t.Run("Should let notContains match absent and non-string attributes", func(t *testing.T) {
		t.Parallel()
		pred := mustCompile(t, rules.Rule{Type: rules.TypeDevice, Field: "model", Operator: rules.OpNotContains, Value: "pixel"})

		clause, _, covered := pred.Prefilter("attributes", 1)

		assert.Contains(t, clause, "IS NULL OR")
		assert.Contains(t, clause, "NOT ILIKE")
		// A number like 123 never "contains" anything, so its text form must
		// not be tested against the pattern.
		assert.Contains(t, clause, `jsonb_typeof(attributes #> '{devices,model}') <> 'string'`)
		assert.Equal(t, 1, covered)
	})
}

func TestPrefilter_TranslatesInAsContainmentUnion(t *testing.T) {
	t.Parallel()

	pred := mustCompile(t, rules.Rule{Type: rules.TypeLocation, Field: "country", Operator: rules.OpIn, Value: []any{"BR", "AR"}})

	clause, args, covered := pred.Prefilter("attributes", 1)

	assert.Equal(t, `(attributes @> $1::jsonb OR attributes @> $2::jsonb)`, clause)
	require.Len(t, args, 2)
	assert.Equal(t, 1, covered)
}

func TestPrefilter_SkipsInWithNumericItems(t *testing.T) {
	t.Parallel()

	pred := mustCompile(t, rules.Rule{Type: rules.TypeLocation, Field: "country", Operator: rules.OpIn, Value: []any{"BR", 55}})

	clause, _, covered := pred.Prefilter("attributes", 1)

	assert.Empty(t, clause, "one untranslatable item keeps the whole rule in-process")
	assert.Zero(t, covered)
}

func TestPrefilter_TranslatesExistence(t *testing.T) {
	t.Parallel()

	pred := mustCompile(t, rules.Rule{Type: rules.TypePreference, Field: "optedIn", Operator: rules.OpExists})

	clause, args, covered := pred.Prefilter("attributes", 1)

	assert.Contains(t, clause, `attributes #> '{preferences,opted_in}' IS NOT NULL`)
	assert.Contains(t, clause, `jsonb_typeof`, "jsonb null must count as absent")
	assert.Empty(t, args)
	assert.Equal(t, 1, covered)
}

func TestPrefilter_SkipsComparisonsAndRelativeDates(t *testing.T) {
	t.Parallel()

	pred := mustCompile(t,
		rules.Rule{Type: rules.TypePurchase, Field: "totalSpent", Operator: rules.OpGreaterThan, Value: 100},
		rules.Rule{Type: rules.TypeDemographic, Field: "age", Operator: rules.OpBetween, Value: []any{18.0, 65.0}},
		rules.Rule{Type: rules.TypeBehavior, Field: "lastActive", Operator: rules.OpDaysAgo, Value: 30},
	)

	clause, _, covered := pred.Prefilter("attributes", 1)

	assert.Empty(t, clause)
	assert.Zero(t, covered)
}

func TestPrefilter_MixedRuleSetNumbersArgsFromStart(t *testing.T) {
	t.Parallel()

	pred := mustCompile(t,
		rules.Rule{Type: rules.TypeLocation, Field: "country", Operator: rules.OpEquals, Value: "BR"},
		rules.Rule{Type: rules.TypePurchase, Field: "totalSpent", Operator: rules.OpGreaterThan, Value: 100},
		rules.Rule{Type: rules.TypeDevice, Field: "model", Operator: rules.OpContains, Value: "pixel"},
	)

	clause, args, covered := pred.Prefilter("attributes", 3)

	assert.Equal(t, `attributes @> $3::jsonb AND attributes #>> '{devices,model}' ILIKE $4`, clause)
	assert.Len(t, args, 2)
	assert.Equal(t, 2, covered, "the comparison stays in-process")
}

func TestPrefilter_SkipsUnsafeRawPaths(t *testing.T) {
	t.Parallel()

	// A raw field with characters outside the path whitelist cannot be
	// embedded in a jsonb path literal.
	pred := mustCompile(t, rules.Rule{Type: rules.TypeDemographic, Field: "a'b", Operator: rules.OpEquals, Value: "x"})

	clause, _, covered := pred.Prefilter("attributes", 1)

	assert.Empty(t, clause)
	assert.Zero(t, covered)
}
