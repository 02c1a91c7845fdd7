package experiment

import (
	"context"
	"log/slog"

	"github.com/seglab/cohort/internal/domainerr"
	"github.com/seglab/cohort/internal/observability"
	"github.com/seglab/cohort/internal/push"
	"github.com/seglab/cohort/internal/store"
)

// VariantDispatch is the per-variant outcome of one send.
type VariantDispatch struct {
	Variant    string `json:"variant"`
	Recipients int    `json:"recipients"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SendReport summarizes one experiment send. Zero recipients is a valid
// no-op outcome, not an error.
type SendReport struct {
	Experiment      string            `json:"experiment"`
	Segment         string            `json:"segment"`
	TotalRecipients int               `json:"total_recipients"`
	Dispatches      []VariantDispatch `json:"dispatches"`
}

// Send resolves the target segment's device tokens, allocates them across
// the variants and dispatches each variant's notification. A dispatch
// failure for one variant is recorded in the report and does not prevent
// dispatch to the others. Successful dispatches increment the variant's
// impressions by the allocation size.
func (s *Service) Send(ctx context.Context, name string, extra map[string]any) (*SendReport, error) {
	e, err := s.repo.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	if e.Status != store.StatusActive {
		return nil, domainerr.State("cannot send experiment %q with status %q", name, e.Status)
	}

	seg, err := s.segments.Get(ctx, e.SegmentName)
	if err != nil {
		return nil, err
	}

	tokens, err := s.segments.CollectDeviceTokens(ctx, seg)
	if err != nil {
		return nil, err
	}

	report := &SendReport{
		Experiment:      e.Name,
		Segment:         seg.Name,
		TotalRecipients: len(tokens),
		Dispatches:      make([]VariantDispatch, 0, len(e.Variants)),
	}
	if len(tokens) == 0 {
		s.logger.Info("experiment send matched no recipients", slog.String("experiment", name))
		return report, nil
	}

	allocations := Allocate(tokens, e.Variants, e.Name)

	for _, v := range e.Variants {
		allocation := allocations[v.Name]
		if len(allocation) == 0 {
			continue
		}

		result, err := s.sender.Send(ctx, allocation, push.Notification{
			Title: v.Title,
			Body:  v.Body,
			Data:  mergePayload(e.Name, v, extra),
		})
		if err != nil {
			// Partial-failure isolation: log, record, keep dispatching.
			s.logger.Error("variant dispatch failed",
				slog.String("experiment", name),
				slog.String("variant", v.Name),
				slog.String("error", err.Error()),
			)
			observability.PushDispatchTotal.WithLabelValues(name, "error").Inc()
			report.Dispatches = append(report.Dispatches, VariantDispatch{
				Variant:    v.Name,
				Recipients: len(allocation),
				Error:      err.Error(),
			})
			continue
		}

		observability.PushDispatchTotal.WithLabelValues(name, "ok").Inc()
		report.Dispatches = append(report.Dispatches, VariantDispatch{
			Variant:    v.Name,
			Recipients: len(allocation),
			DeliveryID: result.ID,
		})

		if err := s.repo.IncrementMetric(ctx, e.Name, v.Name, store.MetricImpressions, int64(len(allocation))); err != nil {
			s.logger.Error("failed to record impressions",
				slog.String("experiment", name),
				slog.String("variant", v.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	return report, nil
}

// mergePayload combines the variant's opaque payload with caller-supplied
// extras and the tracking identifiers clients echo back on open/click.
func mergePayload(experiment string, v store.Variant, extra map[string]any) map[string]any {
	data := make(map[string]any, len(v.Data)+len(extra)+2)
	for k, val := range v.Data {
		data[k] = val
	}
	for k, val := range extra {
		data[k] = val
	}
	data["experiment"] = experiment
	data["variant"] = v.Name
	return data
}
