package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/seglab/cohort/internal/domainerr"
)

// Compile-time checks for the in-memory implementations.
var (
	_ SegmentRepository    = (*MemorySegmentStore)(nil)
	_ ExperimentRepository = (*MemoryExperimentStore)(nil)
)

// MemorySegmentStore is a mutex-guarded SegmentRepository for unit tests.
// Stored segments are copied on the way in and out, so callers can never
// mutate repository state through a shared pointer.
type MemorySegmentStore struct {
	mu       sync.Mutex
	nextID   int64
	segments map[string]*Segment
}

// NewMemorySegmentStore creates an empty in-memory segment repository.
func NewMemorySegmentStore() *MemorySegmentStore {
	return &MemorySegmentStore{segments: make(map[string]*Segment)}
}

func (s *MemorySegmentStore) CreateSegment(_ context.Context, seg *Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.segments[seg.Name]; exists {
		return domainerr.Validation("segment %q already exists", seg.Name)
	}

	s.nextID++
	seg.ID = s.nextID
	now := time.Now().UTC()
	seg.CreatedAt = now
	seg.UpdatedAt = now

	s.segments[seg.Name] = copySegment(seg)
	return nil
}

func (s *MemorySegmentStore) GetSegment(_ context.Context, name string) (*Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[name]
	if !ok {
		return nil, domainerr.NotFound("segment %q not found", name)
	}
	return copySegment(seg), nil
}

func (s *MemorySegmentStore) ListSegments(_ context.Context, onlyActive bool) ([]*Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Segment, 0, len(s.segments))
	for _, seg := range s.segments {
		if onlyActive && !seg.Active {
			continue
		}
		out = append(out, copySegment(seg))
	}
	sortByName(out, func(seg *Segment) string { return seg.Name })
	return out, nil
}

func (s *MemorySegmentStore) UpdateSegment(_ context.Context, seg *Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.segments[seg.Name]
	if !ok {
		return domainerr.NotFound("segment %q not found", seg.Name)
	}

	stored.Description = seg.Description
	stored.Tags = append([]string(nil), seg.Tags...)
	stored.Active = seg.Active
	stored.Rules = append(stored.Rules[:0:0], seg.Rules...)
	stored.UpdatedAt = time.Now().UTC()
	seg.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemorySegmentStore) UpdateSegmentSize(_ context.Context, name string, size int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.segments[name]
	if !ok {
		return domainerr.NotFound("segment %q not found", name)
	}
	stored.EstimatedSize = size
	stored.LastSizeUpdate = &at
	return nil
}

func (s *MemorySegmentStore) DeleteSegment(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.segments[name]; !ok {
		return domainerr.NotFound("segment %q not found", name)
	}
	delete(s.segments, name)
	return nil
}

// MemoryExperimentStore is a mutex-guarded ExperimentRepository for unit
// tests. IncrementMetric mutates counters under the lock, matching the
// lost-update guarantee of the SQL implementation.
type MemoryExperimentStore struct {
	mu          sync.Mutex
	nextID      int64
	experiments map[string]*Experiment
}

// NewMemoryExperimentStore creates an empty in-memory experiment repository.
func NewMemoryExperimentStore() *MemoryExperimentStore {
	return &MemoryExperimentStore{experiments: make(map[string]*Experiment)}
}

func (s *MemoryExperimentStore) CreateExperiment(_ context.Context, e *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experiments[e.Name]; exists {
		return domainerr.Validation("experiment %q already exists", e.Name)
	}

	s.nextID++
	e.ID = s.nextID
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	s.experiments[e.Name] = copyExperiment(e)
	return nil
}

func (s *MemoryExperimentStore) GetExperiment(_ context.Context, name string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[name]
	if !ok {
		return nil, domainerr.NotFound("experiment %q not found", name)
	}
	return copyExperiment(e), nil
}

func (s *MemoryExperimentStore) ListExperiments(_ context.Context) ([]*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Experiment, 0, len(s.experiments))
	for _, e := range s.experiments {
		out = append(out, copyExperiment(e))
	}
	sortByName(out, func(e *Experiment) string { return e.Name })
	return out, nil
}

func (s *MemoryExperimentStore) UpdateExperiment(_ context.Context, e *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[e.Name]
	if !ok {
		return domainerr.NotFound("experiment %q not found", e.Name)
	}

	stored.Description = e.Description
	stored.SegmentName = e.SegmentName
	stored.StartDate = copyTime(e.StartDate)
	stored.DurationDays = e.DurationDays
	stored.PrimaryMetric = e.PrimaryMetric
	stored.ConfidenceThreshold = e.ConfidenceThreshold

	// Variants replaced by name, counters preserved for surviving names.
	previous := make(map[string]VariantMetrics, len(stored.Variants))
	for _, v := range stored.Variants {
		previous[v.Name] = v.Metrics
	}
	stored.Variants = copyVariants(e.Variants)
	for i := range stored.Variants {
		if metrics, ok := previous[stored.Variants[i].Name]; ok {
			stored.Variants[i].Metrics = metrics
		}
	}

	stored.UpdatedAt = time.Now().UTC()
	e.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryExperimentStore) UpdateExperimentState(_ context.Context, e *Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[e.Name]
	if !ok {
		return domainerr.NotFound("experiment %q not found", e.Name)
	}

	stored.Status = e.Status
	stored.StartDate = copyTime(e.StartDate)
	stored.EndDate = copyTime(e.EndDate)
	stored.Winner = copyString(e.Winner)
	stored.UpdatedAt = time.Now().UTC()
	e.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryExperimentStore) DeleteExperiment(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[name]; !ok {
		return domainerr.NotFound("experiment %q not found", name)
	}
	delete(s.experiments, name)
	return nil
}

func (s *MemoryExperimentStore) IncrementMetric(_ context.Context, experiment, variant string, metric Metric, delta int64) error {
	if !ValidMetric(metric) {
		return domainerr.Validation("unknown metric %q", metric)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[experiment]
	if !ok {
		return domainerr.NotFound("experiment %q not found", experiment)
	}
	v := e.Variant(variant)
	if v == nil {
		return domainerr.NotFound("experiment %q has no variant %q", experiment, variant)
	}

	switch metric {
	case MetricImpressions:
		v.Metrics.Impressions += delta
	case MetricOpens:
		v.Metrics.Opens += delta
	case MetricClicks:
		v.Metrics.Clicks += delta
	case MetricConversions:
		v.Metrics.Conversions += delta
	}
	return nil
}

func copySegment(seg *Segment) *Segment {
	out := *seg
	out.Tags = append([]string(nil), seg.Tags...)
	out.Rules = append(seg.Rules[:0:0], seg.Rules...)
	out.LastSizeUpdate = copyTime(seg.LastSizeUpdate)
	return &out
}

func copyExperiment(e *Experiment) *Experiment {
	out := *e
	out.Variants = copyVariants(e.Variants)
	out.StartDate = copyTime(e.StartDate)
	out.EndDate = copyTime(e.EndDate)
	out.Winner = copyString(e.Winner)
	return &out
}

func copyVariants(variants []Variant) []Variant {
	out := append(variants[:0:0], variants...)
	for i := range out {
		if out[i].Data != nil {
			data := make(map[string]any, len(out[i].Data))
			for k, v := range out[i].Data {
				data[k] = v
			}
			out[i].Data = data
		}
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// sortByName orders a slice of named records for deterministic listings.
func sortByName[T any](items []T, name func(T) string) {
	slices.SortFunc(items, func(a, b T) int {
		return strings.Compare(name(a), name(b))
	})
}
