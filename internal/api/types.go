package api

import (
	"regexp"
	"strings"
	"time"

	"github.com/seglab/cohort/internal/rules"
	"github.com/seglab/cohort/internal/store"
)

// resourceNameRegex ensures segment and experiment names are URL-safe slugs
// (lowercase, numbers, hyphens, underscores). Compiled once at package
// initialization.
var resourceNameRegex = regexp.MustCompile(`^[a-z0-9_-]+$`)

// validateResourceName enforces the format and length rules shared by
// segment and experiment names.
func validateResourceName(name, kind string) *ErrorResponse {
	if name == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: kind + " name is required",
		}
	}
	if len(name) < 2 || len(name) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: kind + " name must be between 2 and 255 characters",
		}
	}
	if !resourceNameRegex.MatchString(name) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: kind + " name must contain only lowercase letters, numbers, hyphens, and underscores",
		}
	}
	return nil
}

// CreateSegmentRequest defines the payload for POST /segments.
type CreateSegmentRequest struct {
	// Name is required and immutable. Matches '^[a-z0-9_-]+$'.
	Name string `json:"name"`

	// Description is optional.
	Description string `json:"description,omitempty"`

	// Tags are optional free-form labels.
	Tags []string `json:"tags,omitempty"`

	// Active defaults to true if omitted; inactive segments are excluded
	// from targeting and the refresh sweep.
	Active *bool `json:"active,omitempty"`

	// Rules is the rule set defining membership. At least one is required.
	Rules []rules.Rule `json:"rules"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *CreateSegmentRequest) Sanitize() {
	r.Name = strings.ToLower(strings.TrimSpace(r.Name))
	r.Description = strings.TrimSpace(r.Description)
	for i := range r.Tags {
		r.Tags[i] = strings.TrimSpace(r.Tags[i])
	}
}

// Validate checks structural rules. Rule-set semantics are validated by the
// segment service, which owns the operator table.
func (r *CreateSegmentRequest) Validate() *ErrorResponse {
	if err := validateResourceName(r.Name, "segment"); err != nil {
		return err
	}
	if len(r.Rules) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "At least one rule is required",
		}
	}
	return nil
}

// ToModel converts the request into the domain model.
func (r *CreateSegmentRequest) ToModel() *store.Segment {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &store.Segment{
		Name:        r.Name,
		Description: r.Description,
		Tags:        r.Tags,
		Active:      active,
		Rules:       r.Rules,
	}
}

// UpdateSegmentRequest defines the payload for PATCH /segments/{name}.
// Pointers distinguish "missing field" (do nothing) from an explicit update.
type UpdateSegmentRequest struct {
	Description *string       `json:"description,omitempty"`
	Tags        *[]string     `json:"tags,omitempty"`
	Active      *bool         `json:"active,omitempty"`
	Rules       *[]rules.Rule `json:"rules,omitempty"`
}

// RunRulesRequest defines the payload for POST /segments/run: an ad-hoc
// rule set evaluated without persisting a segment.
type RunRulesRequest struct {
	Rules []rules.Rule `json:"rules"`
}

// Validate checks the ad-hoc run payload.
func (r *RunRulesRequest) Validate() *ErrorResponse {
	if len(r.Rules) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "At least one rule is required",
		}
	}
	return nil
}

// VariantRequest is one treatment arm in an experiment payload.
type VariantRequest struct {
	Name   string         `json:"name"`
	Title  string         `json:"title,omitempty"`
	Body   string         `json:"body,omitempty"`
	Weight int            `json:"weight"`
	Data   map[string]any `json:"data,omitempty"`
}

// CreateExperimentRequest defines the payload for POST /experiments.
type CreateExperimentRequest struct {
	// Name is required and immutable. Matches '^[a-z0-9_-]+$'.
	Name string `json:"name"`

	// Description is optional.
	Description string `json:"description,omitempty"`

	// Segment is the name of the target segment. Must exist.
	Segment string `json:"segment"`

	// Variants are the treatment arms; at least 2, weights summing to 100.
	Variants []VariantRequest `json:"variants"`

	// DurationDays sets the planned run length; the end date is computed
	// from it on start.
	DurationDays int `json:"duration_days"`

	// PrimaryMetric picks the winner: opens, clicks or conversions.
	PrimaryMetric string `json:"primary_metric"`

	// ConfidenceThreshold defaults to 95 if omitted.
	ConfidenceThreshold int `json:"confidence_threshold,omitempty"`
}

// Sanitize cleans up input data.
func (r *CreateExperimentRequest) Sanitize() {
	r.Name = strings.ToLower(strings.TrimSpace(r.Name))
	r.Description = strings.TrimSpace(r.Description)
	r.Segment = strings.ToLower(strings.TrimSpace(r.Segment))
	r.PrimaryMetric = strings.ToLower(strings.TrimSpace(r.PrimaryMetric))
	for i := range r.Variants {
		r.Variants[i].Name = strings.TrimSpace(r.Variants[i].Name)
	}
}

// Validate checks format rules. Cross-field invariants (weight sum, variant
// count, metric whitelist) are enforced by the experiment service.
func (r *CreateExperimentRequest) Validate() *ErrorResponse {
	if err := validateResourceName(r.Name, "experiment"); err != nil {
		return err
	}
	if r.Segment == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Segment is required",
		}
	}
	return nil
}

// ToModel converts the request into the domain model.
func (r *CreateExperimentRequest) ToModel() *store.Experiment {
	variants := make([]store.Variant, len(r.Variants))
	for i, v := range r.Variants {
		variants[i] = store.Variant{
			Name:   v.Name,
			Title:  v.Title,
			Body:   v.Body,
			Weight: v.Weight,
			Data:   v.Data,
		}
	}
	return &store.Experiment{
		Name:                r.Name,
		Description:         r.Description,
		SegmentName:         r.Segment,
		Variants:            variants,
		DurationDays:        r.DurationDays,
		PrimaryMetric:       store.Metric(r.PrimaryMetric),
		ConfidenceThreshold: r.ConfidenceThreshold,
	}
}

// UpdateExperimentRequest defines the payload for PATCH /experiments/{name}.
type UpdateExperimentRequest struct {
	Description         *string           `json:"description,omitempty"`
	Segment             *string           `json:"segment,omitempty"`
	Variants            *[]VariantRequest `json:"variants,omitempty"`
	StartDate           *time.Time        `json:"start_date,omitempty"`
	DurationDays        *int              `json:"duration_days,omitempty"`
	PrimaryMetric       *string           `json:"primary_metric,omitempty"`
	ConfidenceThreshold *int              `json:"confidence_threshold,omitempty"`
}

// SendExperimentRequest defines the optional payload for POST
// /experiments/{name}/send. Data is merged into every variant's
// notification payload.
type SendExperimentRequest struct {
	Data map[string]any `json:"data,omitempty"`
}

// TrackMetricRequest defines the optional payload for the track endpoint.
// A missing or non-positive count records a single event.
type TrackMetricRequest struct {
	Count int64 `json:"count,omitempty"`
}

// RunResult is the response of POST /segments/run.
type RunResult struct {
	MatchCount int      `json:"match_count"`
	UserIDs    []string `json:"user_ids"`
}

// RefreshResult is the response of POST /segments/{name}/refresh.
type RefreshResult struct {
	Segment       string `json:"segment"`
	EstimatedSize int    `json:"estimated_size"`
}

// RefreshAllResult is the response of POST /segments/refresh-all.
type RefreshAllResult struct {
	Refreshed int `json:"refreshed"`
}

// DeviceTokens is the response of GET /segments/{name}/devices.
type DeviceTokens struct {
	Segment string   `json:"segment"`
	Count   int      `json:"count"`
	Tokens  []string `json:"tokens"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`
}
