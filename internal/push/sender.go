// Package push defines the push notification sender contract and its
// implementations. Delivery transport details live entirely behind the
// Sender interface; the experiment engine only hands over device tokens and
// content.
package push

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Notification is the content of one delivery.
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// DeliveryResult is the gateway's acknowledgment of one delivery request.
type DeliveryResult struct {
	// ID is the gateway-assigned delivery identifier.
	ID string `json:"id"`

	// StatusCode is the gateway's status for the request.
	StatusCode int `json:"status_code"`

	// Accepted is the number of device tokens the gateway accepted.
	Accepted int `json:"accepted"`
}

// Sender delivers one notification to a list of device tokens.
type Sender interface {
	Send(ctx context.Context, tokens []string, n Notification) (*DeliveryResult, error)
}

// Compile-time check to verify that NopSender implements Sender.
var _ Sender = (*NopSender)(nil)

// NopSender logs deliveries instead of sending them. It is the default in
// development, where no gateway is configured.
type NopSender struct {
	logger *slog.Logger
}

// NewNopSender creates a logging no-op sender.
func NewNopSender(logger *slog.Logger) *NopSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &NopSender{logger: logger}
}

// Send logs the would-be delivery and acknowledges every token.
func (s *NopSender) Send(_ context.Context, tokens []string, n Notification) (*DeliveryResult, error) {
	s.logger.Info("push delivery skipped (no gateway configured)",
		slog.Int("tokens", len(tokens)),
		slog.String("title", n.Title),
	)
	return &DeliveryResult{
		ID:         uuid.NewString(),
		StatusCode: 200,
		Accepted:   len(tokens),
	}, nil
}
