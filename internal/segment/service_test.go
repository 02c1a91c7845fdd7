package segment_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seglab/cohort/internal/directory"
	"github.com/seglab/cohort/internal/domainerr"
	"github.com/seglab/cohort/internal/rules"
	"github.com/seglab/cohort/internal/segment"
	"github.com/seglab/cohort/internal/store"
	"github.com/seglab/cohort/internal/testsupport"
)

func newService(t *testing.T, users ...directory.User) *segment.Service {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return segment.NewService(store.NewMemorySegmentStore(), directory.NewMemoryDirectory(users...), nil, nil, log)
}

func countryRule(country string) rules.Rule {
	return rules.Rule{Type: rules.TypeLocation, Field: "country", Operator: rules.OpEquals, Value: country}
}

func TestCreateSegment(t *testing.T) {
	t.Parallel()

	t.Run("Should create and compute the initial size", func(t *testing.T) {
		t.Parallel()
		svc := newService(t,
			testsupport.NewUser("u1").WithCountry("BR").Build(),
			testsupport.NewUser("u2").WithCountry("AR").Build(),
			testsupport.NewUser("u3").WithCountry("BR").Build(),
		)

		seg := &store.Segment{Name: "brazil", Active: true, Rules: []rules.Rule{countryRule("BR")}}
		require.NoError(t, svc.Create(context.Background(), seg))

		assert.Equal(t, 2, seg.EstimatedSize)

		got, err := svc.Get(context.Background(), "brazil")
		require.NoError(t, err)
		assert.Equal(t, 2, got.EstimatedSize)
		assert.NotNil(t, got.LastSizeUpdate)
	})

	t.Run("Should reject an empty rule set", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)

		err := svc.Create(context.Background(), &store.Segment{Name: "empty", Active: true})
		assert.True(t, domainerr.IsValidation(err))
	})

	t.Run("Should reject invalid rules", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)

		seg := &store.Segment{Name: "broken", Active: true, Rules: []rules.Rule{
			{Type: rules.TypeLocation, Field: "country", Operator: "sounds-like", Value: "BR"},
		}}
		err := svc.Create(context.Background(), seg)
		assert.True(t, domainerr.IsValidation(err))
		assert.Contains(t, err.Error(), "invalid rule set")
	})

	t.Run("Should reject duplicate names", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)

		seg := &store.Segment{Name: "dup", Active: true, Rules: []rules.Rule{countryRule("BR")}}
		require.NoError(t, svc.Create(context.Background(), seg))

		err := svc.Create(context.Background(), &store.Segment{Name: "dup", Active: true, Rules: []rules.Rule{countryRule("AR")}})
		assert.True(t, domainerr.IsValidation(err))
	})
}

func TestUpdateSegment(t *testing.T) {
	t.Parallel()

	t.Run("Should revalidate and refresh the size on a rule change", func(t *testing.T) {
		t.Parallel()
		svc := newService(t,
			testsupport.NewUser("u1").WithCountry("BR").Build(),
			testsupport.NewUser("u2").WithCountry("AR").Build(),
			testsupport.NewUser("u3").WithCountry("AR").Build(),
		)

		seg := &store.Segment{Name: "target", Active: true, Rules: []rules.Rule{countryRule("BR")}}
		require.NoError(t, svc.Create(context.Background(), seg))
		require.Equal(t, 1, seg.EstimatedSize)

		newRules := []rules.Rule{countryRule("AR")}
		updated, err := svc.Update(context.Background(), "target", segment.UpdateParams{Rules: &newRules})
		require.NoError(t, err)

		assert.Equal(t, 2, updated.EstimatedSize)
	})

	t.Run("Should reject a rule change to an invalid set", func(t *testing.T) {
		t.Parallel()
		svc := newService(t, testsupport.NewUser("u1").WithCountry("BR").Build())

		seg := &store.Segment{Name: "target", Active: true, Rules: []rules.Rule{countryRule("BR")}}
		require.NoError(t, svc.Create(context.Background(), seg))

		bad := []rules.Rule{{Type: rules.TypeDemographic, Field: "age", Operator: rules.OpBetween, Value: []any{65.0, 18.0}}}
		_, err := svc.Update(context.Background(), "target", segment.UpdateParams{Rules: &bad})
		assert.True(t, domainerr.IsValidation(err))

		// The stored rules survive the rejected update.
		got, err := svc.Get(context.Background(), "target")
		require.NoError(t, err)
		assert.Equal(t, seg.Rules, got.Rules)
	})

	t.Run("Should patch metadata without touching the size", func(t *testing.T) {
		t.Parallel()
		svc := newService(t, testsupport.NewUser("u1").WithCountry("BR").Build())

		seg := &store.Segment{Name: "target", Active: true, Rules: []rules.Rule{countryRule("BR")}}
		require.NoError(t, svc.Create(context.Background(), seg))

		desc := "big spenders in Brazil"
		tags := []string{"geo", "ltv"}
		updated, err := svc.Update(context.Background(), "target", segment.UpdateParams{Description: &desc, Tags: &tags})
		require.NoError(t, err)

		assert.Equal(t, desc, updated.Description)
		assert.Equal(t, tags, updated.Tags)
		assert.Equal(t, 1, updated.EstimatedSize)
	})

	t.Run("Should report unknown segments", func(t *testing.T) {
		t.Parallel()
		svc := newService(t)

		_, err := svc.Update(context.Background(), "ghost", segment.UpdateParams{})
		assert.True(t, domainerr.IsNotFound(err))
	})
}

func TestListSegments(t *testing.T) {
	t.Parallel()

	svc := newService(t, testsupport.NewUser("u1").WithCountry("BR").Build())
	require.NoError(t, svc.Create(context.Background(), &store.Segment{Name: "live", Active: true, Rules: []rules.Rule{countryRule("BR")}}))
	require.NoError(t, svc.Create(context.Background(), &store.Segment{Name: "retired", Active: false, Rules: []rules.Rule{countryRule("AR")}}))

	t.Run("Should hide inactive segments by default", func(t *testing.T) {
		t.Parallel()
		segs, err := svc.List(context.Background(), false)
		require.NoError(t, err)
		require.Len(t, segs, 1)
		assert.Equal(t, "live", segs[0].Name)
	})

	t.Run("Should include inactive segments on request", func(t *testing.T) {
		t.Parallel()
		segs, err := svc.List(context.Background(), true)
		require.NoError(t, err)
		assert.Len(t, segs, 2)
	})
}

func TestResolveMembers(t *testing.T) {
	t.Parallel()

	svc := newService(t,
		testsupport.NewUser("u1").WithCountry("BR").WithTotalSpent(250).Build(),
		testsupport.NewUser("u2").WithCountry("BR").WithTotalSpent(40).Build(),
		testsupport.NewUser("u3").WithCountry("AR").WithTotalSpent(900).Build(),
	)

	seg := &store.Segment{Name: "br-whales", Active: true, Rules: []rules.Rule{
		countryRule("BR"),
		{Type: rules.TypePurchase, Field: "totalSpent", Operator: rules.OpGreaterThan, Value: 100},
	}}
	require.NoError(t, svc.Create(context.Background(), seg))

	members, err := svc.ResolveMembers(context.Background(), seg)
	require.NoError(t, err)

	require.Len(t, members, 1)
	assert.Equal(t, "u1", members[0].ID)
}

func TestResolveMembers_GeneratedPopulation(t *testing.T) {
	t.Parallel()

	// 120 users, every third one in BR with a spend above the threshold.
	users := testsupport.BuildUsers(120, func(i int, b *testsupport.UserBuilder) {
		if i%3 == 0 {
			b.WithCountry("BR").WithTotalSpent(150)
		} else {
			b.WithCountry("AR").WithTotalSpent(10)
		}
	})
	svc := newService(t, users...)

	seg := &store.Segment{Name: "br-bulk", Active: true, Rules: []rules.Rule{
		countryRule("BR"),
		{Type: rules.TypePurchase, Field: "totalSpent", Operator: rules.OpGreaterThan, Value: 100},
	}}
	require.NoError(t, svc.Create(context.Background(), seg))

	members, err := svc.ResolveMembers(context.Background(), seg)
	require.NoError(t, err)
	assert.Len(t, members, 40)
	assert.Equal(t, 40, seg.EstimatedSize)
}

func TestResolveAdHoc(t *testing.T) {
	t.Parallel()

	svc := newService(t,
		testsupport.NewUser("u1").WithCountry("BR").Build(),
		testsupport.NewUser("u2").WithCountry("AR").Build(),
	)

	t.Run("Should resolve without persisting anything", func(t *testing.T) {
		t.Parallel()
		members, err := svc.ResolveAdHoc(context.Background(), []rules.Rule{countryRule("AR")})
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "u2", members[0].ID)

		segs, err := svc.List(context.Background(), true)
		require.NoError(t, err)
		assert.Empty(t, segs)
	})

	t.Run("Should reject an empty rule set", func(t *testing.T) {
		t.Parallel()
		_, err := svc.ResolveAdHoc(context.Background(), nil)
		assert.True(t, domainerr.IsValidation(err))
	})

	t.Run("Should reject invalid rules", func(t *testing.T) {
		t.Parallel()
		_, err := svc.ResolveAdHoc(context.Background(), []rules.Rule{
			{Type: rules.TypeLocation, Field: "country", Operator: rules.OpIn, Value: "BR"},
		})
		assert.True(t, domainerr.IsValidation(err))
	})
}

func TestCollectDeviceTokens(t *testing.T) {
	t.Parallel()

	svc := newService(t,
		testsupport.NewUser("u1").WithCountry("BR").WithDevices("tok-a", "tok-b").Build(),
		testsupport.NewUser("u2").WithCountry("BR").WithDevices("tok-b", "", "tok-c").Build(),
		testsupport.NewUser("u3").WithCountry("AR").WithDevices("tok-z").Build(),
	)

	seg := &store.Segment{Name: "brazil", Active: true, Rules: []rules.Rule{countryRule("BR")}}
	require.NoError(t, svc.Create(context.Background(), seg))

	tokens, err := svc.CollectDeviceTokens(context.Background(), seg)
	require.NoError(t, err)

	// Flattened in first-seen order, deduplicated, empty strings dropped.
	assert.Equal(t, []string{"tok-a", "tok-b", "tok-c"}, tokens)
}

func TestRefreshAll(t *testing.T) {
	t.Parallel()

	svc := newService(t,
		testsupport.NewUser("u1").WithCountry("BR").Build(),
		testsupport.NewUser("u2").WithCountry("BR").Build(),
	)
	require.NoError(t, svc.Create(context.Background(), &store.Segment{Name: "brazil", Active: true, Rules: []rules.Rule{countryRule("BR")}}))
	require.NoError(t, svc.Create(context.Background(), &store.Segment{Name: "argentina", Active: true, Rules: []rules.Rule{countryRule("AR")}}))
	require.NoError(t, svc.Create(context.Background(), &store.Segment{Name: "dormant", Active: false, Rules: []rules.Rule{countryRule("CL")}}))

	refreshed, err := svc.RefreshAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, refreshed, "inactive segments stay out of the sweep")

	brazil, err := svc.Get(context.Background(), "brazil")
	require.NoError(t, err)
	assert.Equal(t, 2, brazil.EstimatedSize)
}

func TestDeleteSegment(t *testing.T) {
	t.Parallel()

	svc := newService(t, testsupport.NewUser("u1").WithCountry("BR").Build())
	require.NoError(t, svc.Create(context.Background(), &store.Segment{Name: "brazil", Active: true, Rules: []rules.Rule{countryRule("BR")}}))

	require.NoError(t, svc.Delete(context.Background(), "brazil"))

	_, err := svc.Get(context.Background(), "brazil")
	assert.True(t, domainerr.IsNotFound(err))

	err = svc.Delete(context.Background(), "brazil")
	assert.True(t, domainerr.IsNotFound(err))
}
