//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seglab/cohort/internal/domainerr"
	"github.com/seglab/cohort/internal/rules"
	"github.com/seglab/cohort/internal/store"
	"github.com/seglab/cohort/internal/testsupport"
)

// TestPostgresStores_Integration runs the repository contract against a real
// PostgreSQL instance with the production schema applied.
func TestPostgresStores_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	segments := store.NewPostgresSegmentStore(pgContainer.DB)
	experiments := store.NewPostgresExperimentStore(pgContainer.DB)

	t.Run("Should round-trip a segment with its rule set", func(t *testing.T) {
		seg := &store.Segment{
			Name:        "br-whales",
			Description: "High spenders in Brazil",
			Tags:        []string{"geo", "ltv"},
			Active:      true,
			Rules: []rules.Rule{
				{Type: rules.TypeLocation, Field: "country", Operator: rules.OpEquals, Value: "BR"},
				{Type: rules.TypePurchase, Field: "totalSpent", Operator: rules.OpGreaterThan, Value: 100.0},
			},
		}
		require.NoError(t, segments.CreateSegment(ctx, seg))
		assert.NotZero(t, seg.ID)

		got, err := segments.GetSegment(ctx, "br-whales")
		require.NoError(t, err)
		assert.Equal(t, seg.Rules, got.Rules)
		assert.Equal(t, []string{"geo", "ltv"}, got.Tags)
		assert.True(t, got.Active)
	})

	t.Run("Should reject a duplicate segment name", func(t *testing.T) {
		err := segments.CreateSegment(ctx, &store.Segment{
			Name:   "br-whales",
			Active: true,
			Rules:  []rules.Rule{{Type: rules.TypeLocation, Field: "country", Operator: rules.OpExists}},
		})
		assert.True(t, domainerr.IsValidation(err))
	})

	t.Run("Should filter inactive segments from the active listing", func(t *testing.T) {
		require.NoError(t, segments.CreateSegment(ctx, &store.Segment{
			Name:   "retired",
			Active: false,
			Rules:  []rules.Rule{{Type: rules.TypeLocation, Field: "country", Operator: rules.OpExists}},
		}))

		active, err := segments.ListSegments(ctx, true)
		require.NoError(t, err)
		for _, s := range active {
			assert.NotEqual(t, "retired", s.Name)
		}

		all, err := segments.ListSegments(ctx, false)
		require.NoError(t, err)
		assert.Greater(t, len(all), len(active))
	})

	t.Run("Should persist the size refresh", func(t *testing.T) {
		seg := &store.Segment{
			Name:   "sized",
			Active: true,
			Rules:  []rules.Rule{{Type: rules.TypeLocation, Field: "country", Operator: rules.OpExists}},
		}
		require.NoError(t, segments.CreateSegment(ctx, seg))

		_, err := segments.GetSegment(ctx, "sized")
		require.NoError(t, err)

		require.NoError(t, segments.UpdateSegmentSize(ctx, "sized", 1234, seg.CreatedAt))

		got, err := segments.GetSegment(ctx, "sized")
		require.NoError(t, err)
		assert.Equal(t, 1234, got.EstimatedSize)
		assert.NotNil(t, got.LastSizeUpdate)
	})

	experimentFixture := func(name string) *store.Experiment {
		return &store.Experiment{
			Name:        name,
			SegmentName: "br-whales",
			Status:      store.StatusDraft,
			Variants: []store.Variant{
				{Name: "control", Title: "Hello", Body: "Plain copy", Weight: 50, Data: map[string]any{"deep_link": "home"}},
				{Name: "treatment", Title: "Hey!", Body: "Spicy copy", Weight: 50},
			},
			DurationDays:        7,
			PrimaryMetric:       store.MetricClicks,
			ConfidenceThreshold: 95,
		}
	}

	t.Run("Should round-trip an experiment with variants in creation order", func(t *testing.T) {
		e := experimentFixture("copy-test")
		require.NoError(t, experiments.CreateExperiment(ctx, e))

		got, err := experiments.GetExperiment(ctx, "copy-test")
		require.NoError(t, err)

		require.Len(t, got.Variants, 2)
		assert.Equal(t, "control", got.Variants[0].Name)
		assert.Equal(t, "treatment", got.Variants[1].Name)
		assert.Equal(t, map[string]any{"deep_link": "home"}, got.Variants[0].Data)
		assert.Equal(t, store.StatusDraft, got.Status)
	})

	t.Run("Should preserve counters across a variant-list update", func(t *testing.T) {
		e := experimentFixture("counter-keeper")
		require.NoError(t, experiments.CreateExperiment(ctx, e))
		require.NoError(t, experiments.IncrementMetric(ctx, "counter-keeper", "control", store.MetricClicks, 9))

		e.Variants = []store.Variant{
			{Name: "control", Title: "Hello", Body: "Plain copy", Weight: 40},
			{Name: "bold", Title: "HELLO", Body: "Shouty copy", Weight: 60},
		}
		require.NoError(t, experiments.UpdateExperiment(ctx, e))

		got, err := experiments.GetExperiment(ctx, "counter-keeper")
		require.NoError(t, err)

		require.NotNil(t, got.Variant("control"))
		assert.Equal(t, int64(9), got.Variant("control").Metrics.Clicks)
		assert.Equal(t, 40, got.Variant("control").Weight)
		assert.Nil(t, got.Variant("treatment"))
		require.NotNil(t, got.Variant("bold"))
		assert.Zero(t, got.Variant("bold").Metrics.Clicks)
	})

	t.Run("Should not lose concurrent metric increments", func(t *testing.T) {
		e := experimentFixture("contended")
		require.NoError(t, experiments.CreateExperiment(ctx, e))

		const workers = 20
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, experiments.IncrementMetric(ctx, "contended", "control", store.MetricOpens, 1))
			}()
		}
		wg.Wait()

		got, err := experiments.GetExperiment(ctx, "contended")
		require.NoError(t, err)
		assert.Equal(t, int64(workers), got.Variant("control").Metrics.Opens)
	})

	t.Run("Should report unknown names as not found", func(t *testing.T) {
		_, err := experiments.GetExperiment(ctx, "ghost")
		assert.True(t, domainerr.IsNotFound(err))

		err = experiments.IncrementMetric(ctx, "ghost", "control", store.MetricClicks, 1)
		assert.True(t, domainerr.IsNotFound(err))

		err = experiments.IncrementMetric(ctx, "contended", "ghost", store.MetricClicks, 1)
		assert.True(t, domainerr.IsNotFound(err))

		_, err = segments.GetSegment(ctx, "ghost")
		assert.True(t, domainerr.IsNotFound(err))
	})

	t.Run("Should delete an experiment and cascade its variants", func(t *testing.T) {
		e := experimentFixture("doomed")
		require.NoError(t, experiments.CreateExperiment(ctx, e))
		require.NoError(t, experiments.DeleteExperiment(ctx, "doomed"))

		_, err := experiments.GetExperiment(ctx, "doomed")
		assert.True(t, domainerr.IsNotFound(err))
	})
}
