package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/seglab/cohort/internal/config"
)

// Compile-time check to verify that HTTPSender implements Sender.
var _ Sender = (*HTTPSender)(nil)

// HTTPSender delivers notifications through an HTTP push gateway with a
// JSON POST per token batch.
type HTTPSender struct {
	endpoint  string
	apiKey    string
	batchSize int
	client    *http.Client
}

// NewHTTPSender creates a sender for the configured gateway.
func NewHTTPSender(cfg *config.PushConfig) *HTTPSender {
	if cfg == nil || cfg.Endpoint == "" {
		panic("push: sender requires a configured endpoint")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &HTTPSender{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		batchSize: batch,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

// deliveryRequest is the gateway wire format.
type deliveryRequest struct {
	Tokens []string       `json:"tokens"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
}

// deliveryResponse mirrors the gateway acknowledgment.
type deliveryResponse struct {
	ID       string `json:"id"`
	Accepted int    `json:"accepted"`
}

// Send posts the notification in batches. A failing batch fails the whole
// call; the caller decides whether to retry, this layer does not.
func (s *HTTPSender) Send(ctx context.Context, tokens []string, n Notification) (*DeliveryResult, error) {
	result := &DeliveryResult{ID: uuid.NewString()}

	for start := 0; start < len(tokens); start += s.batchSize {
		end := min(start+s.batchSize, len(tokens))

		resp, err := s.post(ctx, deliveryRequest{
			Tokens: tokens[start:end],
			Title:  n.Title,
			Body:   n.Body,
			Data:   n.Data,
		})
		if err != nil {
			return nil, err
		}

		// The gateway's id for the first batch identifies the delivery.
		if start == 0 && resp.ID != "" {
			result.ID = resp.ID
		}
		result.Accepted += resp.Accepted
	}

	result.StatusCode = http.StatusOK
	return result, nil
}

func (s *HTTPSender) post(ctx context.Context, payload deliveryRequest) (*deliveryResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delivery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push gateway request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("push gateway returned status %d", httpResp.StatusCode)
	}

	var resp deliveryResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &resp, nil
}
