// Package messaging provides the wire contract to external messaging
// channel collaborators (chat platforms, email, webhooks). Per spec.md §1,
// messaging channel adapters are explicitly out-of-scope: this package
// only defines the narrow Sender contract the send_message Core Tool calls
// through, plus a thin HTTP-webhook implementation of it.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sentrycore/sentinel/internal/external/sandbox"
)

// Message is one outbound message to a channel address.
type Message struct {
	ToAddr  string `json:"to"`
	Channel string `json:"channel"`
	Body    string `json:"body"`
}

// SendResult is the outcome of a send accepted by a channel collaborator.
type SendResult struct {
	MessageID string `json:"message_id"`
}

// Sender delivers a Message through some external channel. The agent loop
// and the send_message tool handler depend on this interface, not on any
// concrete channel, so swapping collaborators needs no change above this
// package.
type Sender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// WebhookSender posts messages to a single outbound webhook URL, the
// simplest channel collaborator shape and a reasonable default for a
// single-operator deployment.
type WebhookSender struct {
	http HTTPDoer
	url  string
}

// HTTPDoer captures the subset of *http.Client the adapter uses. It is an
// alias of sandbox.HTTPDoer, so every external adapter in the pack is
// testable the same way.
type HTTPDoer = sandbox.HTTPDoer

// NewWebhookSender constructs a Sender that posts to a fixed webhook URL.
func NewWebhookSender(http HTTPDoer, url string) *WebhookSender {
	return &WebhookSender{http: http, url: url}
}

// Send implements Sender by POSTing msg as JSON to the configured webhook.
func (w *WebhookSender) Send(ctx context.Context, msg Message) (SendResult, error) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(encoded))
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sandbox.IdempotencyKey(encoded))
	resp, err := w.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("messaging: unexpected status %d", resp.StatusCode)
	}
	var out SendResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Not every webhook collaborator echoes a message id; absence of
		// a parseable body isn't itself a delivery failure.
		return SendResult{}, nil
	}
	return out, nil
}
