package experiment_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seglab/cohort/internal/experiment"
	"github.com/seglab/cohort/internal/store"
)

func tokens(n int) []string {
	ts := make([]string, n)
	for i := range ts {
		ts[i] = fmt.Sprintf("token-%04d", i)
	}
	return ts
}

func variants(weights ...int) []store.Variant {
	vs := make([]store.Variant, len(weights))
	for i, w := range weights {
		vs[i] = store.Variant{Name: fmt.Sprintf("v%d", i), Weight: w}
	}
	return vs
}

func TestAllocate_PartitionsExactly(t *testing.T) {
	t.Parallel()

	input := tokens(100)
	allocations := experiment.Allocate(input, variants(50, 30, 20), "exp-partition")

	assert.Len(t, allocations["v0"], 50)
	assert.Len(t, allocations["v1"], 30)
	assert.Len(t, allocations["v2"], 20)

	// Union must be exactly the input set: nothing dropped, nothing
	// duplicated.
	seen := make(map[string]int, len(input))
	for _, alloc := range allocations {
		for _, tok := range alloc {
			seen[tok]++
		}
	}
	require.Len(t, seen, len(input))
	for tok, count := range seen {
		assert.Equal(t, 1, count, "token %s allocated %d times", tok, count)
	}
}

func TestAllocate_LastVariantAbsorbsRemainder(t *testing.T) {
	t.Parallel()

	// floor(33/100*10)=3, floor(33/100*10)=3, remainder 4.
	allocations := experiment.Allocate(tokens(10), variants(33, 33, 34), "exp-floor")

	assert.Len(t, allocations["v0"], 3)
	assert.Len(t, allocations["v1"], 3)
	assert.Len(t, allocations["v2"], 4)
}

func TestAllocate_SingleTokenGoesToLastVariant(t *testing.T) {
	t.Parallel()

	// floor(50/100*1)=0 for the first variant; the last takes the rest.
	allocations := experiment.Allocate([]string{"only"}, variants(50, 50), "exp-single")

	assert.Empty(t, allocations["v0"])
	assert.Equal(t, []string{"only"}, allocations["v1"])
}

func TestAllocate_IsDeterministicPerSalt(t *testing.T) {
	t.Parallel()

	input := tokens(200)
	first := experiment.Allocate(input, variants(40, 60), "exp-det")
	second := experiment.Allocate(input, variants(40, 60), "exp-det")

	assert.Equal(t, first, second, "same salt must reproduce the allocation")
}

func TestAllocate_IgnoresInputOrder(t *testing.T) {
	t.Parallel()

	input := tokens(50)
	reversed := make([]string, len(input))
	for i, tok := range input {
		reversed[len(input)-1-i] = tok
	}

	forward := experiment.Allocate(input, variants(50, 50), "exp-order")
	backward := experiment.Allocate(reversed, variants(50, 50), "exp-order")

	assert.Equal(t, forward, backward, "allocation depends on the salted hash, not arrival order")
}

func TestAllocate_EmptyInputs(t *testing.T) {
	t.Parallel()

	t.Run("Should return empty allocations for zero tokens", func(t *testing.T) {
		t.Parallel()
		allocations := experiment.Allocate(nil, variants(50, 50), "exp-empty")
		assert.Empty(t, allocations["v0"])
		assert.Empty(t, allocations["v1"])
	})

	t.Run("Should return empty map for zero variants", func(t *testing.T) {
		t.Parallel()
		allocations := experiment.Allocate(tokens(5), nil, "exp-novariants")
		assert.Empty(t, allocations)
	})
}
