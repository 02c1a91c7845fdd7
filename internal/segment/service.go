// Package segment implements the segment registry and the membership
// resolver. The registry owns segment definitions and their validation; the
// resolver turns a definition into the current member set by evaluating the
// compiled predicate against the user directory.
package segment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seglab/cohort/internal/cache"
	"github.com/seglab/cohort/internal/directory"
	"github.com/seglab/cohort/internal/domainerr"
	"github.com/seglab/cohort/internal/observability"
	"github.com/seglab/cohort/internal/rules"
	"github.com/seglab/cohort/internal/store"
)

// Service is the segment registry and membership resolver.
type Service struct {
	repo   store.SegmentRepository
	dir    directory.Directory
	preds  *cache.PredicateCache
	tokens cache.TokenCache
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the registry. preds and tokens may be nil: a nil
// predicate cache recompiles on every resolution, a nil token cache
// resolves the directory on every send.
func NewService(repo store.SegmentRepository, dir directory.Directory, preds *cache.PredicateCache, tokens cache.TokenCache, logger *slog.Logger) *Service {
	if repo == nil {
		panic("segment: repository cannot be nil")
	}
	if dir == nil {
		panic("segment: directory cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		dir:    dir,
		preds:  preds,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates the rule set, persists the segment and triggers the
// initial size refresh. A directory outage during that first refresh does
// not fail the create; the size stays at zero until the next refresh.
func (s *Service) Create(ctx context.Context, seg *store.Segment) error {
	if seg.Name == "" {
		return domainerr.Validation("segment name is required")
	}
	if len(seg.Rules) == 0 {
		return domainerr.Validation("segment %q needs at least one rule", seg.Name)
	}
	if _, err := rules.Compile(seg.Rules, s.logger); err != nil {
		return domainerr.Validation("segment %q has an invalid rule set: %v", seg.Name, err)
	}

	if err := s.repo.CreateSegment(ctx, seg); err != nil {
		return err
	}

	if size, err := s.RefreshSize(ctx, seg.Name); err != nil {
		s.logger.Warn("initial size refresh failed",
			slog.String("segment", seg.Name),
			slog.String("error", err.Error()),
		)
	} else {
		seg.EstimatedSize = size
	}
	return nil
}

// UpdateParams carries a partial segment update; nil fields stay untouched.
type UpdateParams struct {
	Description *string
	Tags        *[]string
	Active      *bool
	Rules       *[]rules.Rule
}

// Update applies a partial update. A rule change re-validates the rule set,
// invalidates the cached token set and refreshes the estimated size.
func (s *Service) Update(ctx context.Context, name string, p UpdateParams) (*store.Segment, error) {
	seg, err := s.repo.GetSegment(ctx, name)
	if err != nil {
		return nil, err
	}

	rulesChanged := false
	if p.Description != nil {
		seg.Description = *p.Description
	}
	if p.Tags != nil {
		seg.Tags = *p.Tags
	}
	if p.Active != nil {
		seg.Active = *p.Active
	}
	if p.Rules != nil {
		if len(*p.Rules) == 0 {
			return nil, domainerr.Validation("segment %q needs at least one rule", name)
		}
		if _, err := rules.Compile(*p.Rules, s.logger); err != nil {
			return nil, domainerr.Validation("segment %q has an invalid rule set: %v", name, err)
		}
		seg.Rules = *p.Rules
		rulesChanged = true
	}

	if err := s.repo.UpdateSegment(ctx, seg); err != nil {
		return nil, err
	}

	if rulesChanged {
		s.invalidateTokens(ctx, name)
		if size, err := s.RefreshSize(ctx, name); err != nil {
			s.logger.Warn("size refresh after rule change failed",
				slog.String("segment", name),
				slog.String("error", err.Error()),
			)
		} else {
			seg.EstimatedSize = size
			now := s.now().UTC()
			seg.LastSizeUpdate = &now
		}
	}
	return seg, nil
}

// Get fetches a segment by name.
func (s *Service) Get(ctx context.Context, name string) (*store.Segment, error) {
	return s.repo.GetSegment(ctx, name)
}

// List returns segments; by default only active ones take part in
// targeting, so inactive segments must be asked for explicitly.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]*store.Segment, error) {
	return s.repo.ListSegments(ctx, !includeInactive)
}

// Delete removes the segment unconditionally. Experiments referencing it
// are not touched; see the registry docs for the trade-off.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.repo.DeleteSegment(ctx, name); err != nil {
		return err
	}
	s.invalidateTokens(ctx, name)
	return nil
}

// ResolveMembers evaluates the segment's compiled predicate against the
// user directory and returns the matching users. This is the expensive
// full-scan step; it honors ctx cancellation and takes no locks.
func (s *Service) ResolveMembers(ctx context.Context, seg *store.Segment) ([]directory.User, error) {
	pred, err := s.compiled(seg)
	if err != nil {
		return nil, err
	}

	timer := time.Now()
	members, err := s.dir.FindMatching(ctx, pred)
	observability.SegmentResolveDuration.WithLabelValues(seg.Name).Observe(time.Since(timer).Seconds())
	if err != nil {
		return nil, domainerr.Dependency(err, "failed to resolve members of segment %q", seg.Name)
	}
	return members, nil
}

// ResolveAdHoc evaluates a rule set that is not persisted as a segment.
// Useful for previewing a rule set's audience before saving it.
func (s *Service) ResolveAdHoc(ctx context.Context, rs []rules.Rule) ([]directory.User, error) {
	if len(rs) == 0 {
		return nil, domainerr.Validation("ad-hoc run needs at least one rule")
	}
	pred, err := rules.Compile(rs, s.logger)
	if err != nil {
		return nil, domainerr.Validation("invalid rule set: %v", err)
	}

	members, err := s.dir.FindMatching(ctx, pred)
	if err != nil {
		return nil, domainerr.Dependency(err, "failed to resolve ad-hoc rule set")
	}
	return members, nil
}

// RefreshSize resolves the member set and stores the fresh count with its
// timestamp. Directory failures surface to the caller.
func (s *Service) RefreshSize(ctx context.Context, name string) (int, error) {
	seg, err := s.repo.GetSegment(ctx, name)
	if err != nil {
		return 0, err
	}

	members, err := s.ResolveMembers(ctx, seg)
	if err != nil {
		observability.SegmentRefreshTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	count := len(members)
	if err := s.repo.UpdateSegmentSize(ctx, name, count, s.now().UTC()); err != nil {
		observability.SegmentRefreshTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	observability.SegmentRefreshTotal.WithLabelValues("ok").Inc()
	observability.SegmentSize.WithLabelValues(name).Set(float64(count))
	return count, nil
}

// RefreshAll refreshes every active segment. One segment's failure does not
// stop the sweep; the error count is only logged.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	segments, err := s.repo.ListSegments(ctx, true)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := s.RefreshSize(ctx, seg.Name); err != nil {
			s.logger.Warn("segment refresh failed",
				slog.String("segment", seg.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// CollectDeviceTokens maps the resolved members to their registered device
// tokens, flattened and deduplicated. A user with several devices
// contributes each token once; a token shared across records is returned
// once. Results are cached with a TTL when a token cache is wired.
func (s *Service) CollectDeviceTokens(ctx context.Context, seg *store.Segment) ([]string, error) {
	if s.tokens != nil {
		cached, found, err := s.tokens.GetTokens(ctx, seg.Name)
		if err != nil {
			s.logger.Warn("token cache read failed",
				slog.String("segment", seg.Name),
				slog.String("error", err.Error()),
			)
		} else if found {
			return cached, nil
		}
	}

	members, err := s.ResolveMembers(ctx, seg)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	tokens := make([]string, 0, len(members))
	for _, m := range members {
		for _, t := range m.DeviceTokens {
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tokens = append(tokens, t)
		}
	}

	if s.tokens != nil {
		if err := s.tokens.SetTokens(ctx, seg.Name, tokens); err != nil {
			s.logger.Warn("token cache write failed",
				slog.String("segment", seg.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return tokens, nil
}

// compiled returns the segment's compiled predicate, reusing the cache
// keyed on the segment's revision when one is wired.
func (s *Service) compiled(seg *store.Segment) (*rules.Predicate, error) {
	var key string
	if s.preds != nil {
		key = s.preds.Key(seg.Name, seg.UpdatedAt)
		if pred, ok := s.preds.Get(key); ok {
			return pred, nil
		}
	}

	pred, err := rules.Compile(seg.Rules, s.logger)
	if err != nil {
		// Stored rule sets were validated at write time; hitting this means
		// the mapping table regressed.
		var ce *rules.CompileError
		if errors.As(err, &ce) {
			return nil, domainerr.Validation("segment %q has an invalid stored rule set: %v", seg.Name, err)
		}
		return nil, err
	}

	if s.preds != nil {
		s.preds.Set(key, pred)
	}
	return pred, nil
}

func (s *Service) invalidateTokens(ctx context.Context, name string) {
	if s.tokens == nil {
		return
	}
	if err := s.tokens.InvalidateTokens(ctx, name); err != nil {
		s.logger.Warn("token cache invalidation failed",
			slog.String("segment", name),
			slog.String("error", err.Error()),
		)
	}
}
