package experiment

import (
	"context"
	"log/slog"
	"time"

	"github.com/seglab/cohort/internal/domainerr"
	"github.com/seglab/cohort/internal/observability"
	"github.com/seglab/cohort/internal/push"
	"github.com/seglab/cohort/internal/segment"
	"github.com/seglab/cohort/internal/store"
)

// restrictedFields are frozen while an experiment is active or completed.
// Changing any of them mid-flight would invalidate the collected metrics.
var restrictedFields = []string{"variants", "segment", "start_date", "primary_metric"}

// Service is the experiment lifecycle manager and metrics aggregator.
type Service struct {
	repo     store.ExperimentRepository
	segments *segment.Service
	sender   push.Sender
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the experiment engine.
func NewService(repo store.ExperimentRepository, segments *segment.Service, sender push.Sender, logger *slog.Logger) *Service {
	if repo == nil {
		panic("experiment: repository cannot be nil")
	}
	if segments == nil {
		panic("experiment: segment service cannot be nil")
	}
	if sender == nil {
		panic("experiment: push sender cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		segments: segments,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates the definition, checks the referenced segment exists and
// persists the experiment as a draft.
func (s *Service) Create(ctx context.Context, e *store.Experiment) error {
	if e.ConfidenceThreshold == 0 {
		e.ConfidenceThreshold = 95
	}
	if err := validateDefinition(e); err != nil {
		return err
	}

	if _, err := s.segments.Get(ctx, e.SegmentName); err != nil {
		if domainerr.IsNotFound(err) {
			return domainerr.Validation("experiment %q references unknown segment %q", e.Name, e.SegmentName)
		}
		return err
	}

	e.Status = store.StatusDraft
	e.StartDate = nil
	e.EndDate = nil
	e.Winner = nil
	for i := range e.Variants {
		e.Variants[i].Metrics = store.VariantMetrics{}
	}

	return s.repo.CreateExperiment(ctx, e)
}

// Get fetches an experiment by name.
func (s *Service) Get(ctx context.Context, name string) (*store.Experiment, error) {
	return s.repo.GetExperiment(ctx, name)
}

// List returns all experiments.
func (s *Service) List(ctx context.Context) ([]*store.Experiment, error) {
	return s.repo.ListExperiments(ctx)
}

// Start activates a draft or paused experiment. The start date resets to
// now and the end date is recomputed from the configured duration.
func (s *Service) Start(ctx context.Context, name string) (*store.Experiment, error) {
	e, err := s.repo.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.Status != store.StatusDraft && e.Status != store.StatusPaused {
		return nil, domainerr.State("cannot start experiment %q from status %q", name, e.Status)
	}

	start := s.now().UTC()
	end := start.AddDate(0, 0, e.DurationDays)
	e.Status = store.StatusActive
	e.StartDate = &start
	e.EndDate = &end

	if err := s.repo.UpdateExperimentState(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info("experiment started",
		slog.String("experiment", name),
		slog.Time("end_date", end),
	)
	return e, nil
}

// Pause suspends an active experiment.
func (s *Service) Pause(ctx context.Context, name string) (*store.Experiment, error) {
	e, err := s.repo.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.Status != store.StatusActive {
		return nil, domainerr.State("cannot pause experiment %q from status %q", name, e.Status)
	}

	e.Status = store.StatusPaused
	if err := s.repo.UpdateExperimentState(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Complete finishes an active or paused experiment, computing the winner
// from the collected metrics. No variant with impressions leaves the winner
// unset, which is a valid terminal state.
func (s *Service) Complete(ctx context.Context, name string) (*store.Experiment, error) {
	e, err := s.repo.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.Status != store.StatusActive && e.Status != store.StatusPaused {
		return nil, domainerr.State("cannot complete experiment %q from status %q", name, e.Status)
	}

	end := s.now().UTC()
	e.Status = store.StatusCompleted
	e.EndDate = &end
	e.Winner = DetermineWinner(e)

	if err := s.repo.UpdateExperimentState(ctx, e); err != nil {
		return nil, err
	}

	winner := "none"
	if e.Winner != nil {
		winner = *e.Winner
	}
	s.logger.Info("experiment completed",
		slog.String("experiment", name),
		slog.String("winner", winner),
	)
	return e, nil
}

// Cancel aborts a non-terminal experiment without computing a winner.
func (s *Service) Cancel(ctx context.Context, name string) (*store.Experiment, error) {
	e, err := s.repo.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.Status.Terminal() {
		return nil, domainerr.State("cannot cancel experiment %q from status %q", name, e.Status)
	}

	e.Status = store.StatusCancelled
	if err := s.repo.UpdateExperimentState(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateParams carries a partial experiment update; nil fields stay
// untouched.
type UpdateParams struct {
	Description         *string
	SegmentName         *string
	Variants            *[]store.Variant
	StartDate           *time.Time
	DurationDays        *int
	PrimaryMetric       *store.Metric
	ConfidenceThreshold *int
}

// Update applies a partial update. While the experiment is active or
// completed, the variants, segment, start date and primary metric are
// immutable; touching one fails with a state error naming the field, and
// the stored definition stays untouched.
func (s *Service) Update(ctx context.Context, name string, p UpdateParams) (*store.Experiment, error) {
	e, err := s.repo.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}

	if e.Status == store.StatusActive || e.Status == store.StatusCompleted {
		if field := p.restrictedField(); field != "" {
			return nil, domainerr.State("field %q cannot be changed while experiment %q is %s", field, name, e.Status)
		}
	}

	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.SegmentName != nil {
		if _, err := s.segments.Get(ctx, *p.SegmentName); err != nil {
			if domainerr.IsNotFound(err) {
				return nil, domainerr.Validation("experiment %q references unknown segment %q", name, *p.SegmentName)
			}
			return nil, err
		}
		e.SegmentName = *p.SegmentName
	}
	if p.Variants != nil {
		e.Variants = *p.Variants
	}
	if p.StartDate != nil {
		e.StartDate = p.StartDate
	}
	if p.DurationDays != nil {
		e.DurationDays = *p.DurationDays
	}
	if p.PrimaryMetric != nil {
		e.PrimaryMetric = *p.PrimaryMetric
	}
	if p.ConfidenceThreshold != nil {
		e.ConfidenceThreshold = *p.ConfidenceThreshold
	}

	if err := validateDefinition(e); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateExperiment(ctx, e); err != nil {
		return nil, err
	}
	return s.repo.GetExperiment(ctx, name)
}

// restrictedField returns the first restricted field present in the patch.
func (p UpdateParams) restrictedField() string {
	switch {
	case p.Variants != nil:
		return restrictedFields[0]
	case p.SegmentName != nil:
		return restrictedFields[1]
	case p.StartDate != nil:
		return restrictedFields[2]
	case p.PrimaryMetric != nil:
		return restrictedFields[3]
	default:
		return ""
	}
}

// Delete removes an experiment. Active experiments must be paused or
// cancelled first.
func (s *Service) Delete(ctx context.Context, name string) error {
	e, err := s.repo.GetExperiment(ctx, name)
	if err != nil {
		return err
	}
	if e.Status == store.StatusActive {
		return domainerr.State("experiment %q is active; pause or cancel it before deleting", name)
	}
	return s.repo.DeleteExperiment(ctx, name)
}

// RecordMetric atomically increments one engagement counter on one variant.
func (s *Service) RecordMetric(ctx context.Context, experiment, variant string, metric store.Metric, delta int64) error {
	if !store.ValidMetric(metric) {
		return domainerr.Validation("unknown metric %q", metric)
	}
	if delta <= 0 {
		delta = 1
	}
	if err := s.repo.IncrementMetric(ctx, experiment, variant, metric, delta); err != nil {
		return err
	}
	observability.MetricIncrementsTotal.WithLabelValues(string(metric)).Inc()
	return nil
}

// DetermineWinner picks the variant with the greatest primary-metric ratio
// among variants that received impressions. Ties keep the earlier variant
// in list order. With no impressions anywhere there is no winner.
func DetermineWinner(e *store.Experiment) *string {
	var (
		winner    *string
		bestRatio float64
	)
	for i := range e.Variants {
		v := &e.Variants[i]
		if v.Metrics.Impressions == 0 {
			continue
		}
		ratio := float64(v.Metrics.Value(e.PrimaryMetric)) / float64(v.Metrics.Impressions)
		if winner == nil || ratio > bestRatio {
			winner = &v.Name
			bestRatio = ratio
		}
	}
	return winner
}

// validateDefinition enforces the structural invariants of an experiment.
func validateDefinition(e *store.Experiment) error {
	if e.Name == "" {
		return domainerr.Validation("experiment name is required")
	}
	if e.SegmentName == "" {
		return domainerr.Validation("experiment %q needs a target segment", e.Name)
	}
	if len(e.Variants) < 2 {
		return domainerr.Validation("experiment %q needs at least 2 variants, got %d", e.Name, len(e.Variants))
	}

	weightSum := 0
	names := make(map[string]struct{}, len(e.Variants))
	for _, v := range e.Variants {
		if v.Name == "" {
			return domainerr.Validation("experiment %q has a variant without a name", e.Name)
		}
		if _, dup := names[v.Name]; dup {
			return domainerr.Validation("experiment %q has duplicate variant %q", e.Name, v.Name)
		}
		names[v.Name] = struct{}{}
		if v.Weight < 1 || v.Weight > 100 {
			return domainerr.Validation("variant %q weight must be between 1 and 100, got %d", v.Name, v.Weight)
		}
		weightSum += v.Weight
	}
	if weightSum != 100 {
		return domainerr.Validation("experiment %q variant weights must sum to 100, got %d", e.Name, weightSum)
	}

	if e.DurationDays < 1 {
		return domainerr.Validation("experiment %q duration must be at least 1 day, got %d", e.Name, e.DurationDays)
	}
	switch e.PrimaryMetric {
	case store.MetricOpens, store.MetricClicks, store.MetricConversions:
	default:
		return domainerr.Validation("experiment %q primary metric must be opens, clicks or conversions, got %q", e.Name, e.PrimaryMetric)
	}
	if e.ConfidenceThreshold < 80 || e.ConfidenceThreshold > 99 {
		return domainerr.Validation("experiment %q confidence threshold must be between 80 and 99, got %d", e.Name, e.ConfidenceThreshold)
	}
	return nil
}
