// Package queue implements the default deferral queue client: it posts a
// deferral message to an external HTTP(S) queue endpoint with a bounded
// retry budget, grounded on the teacher's backoff-wrapped API call
// pattern (pkg/diff.defaultBackOff).
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
)

// Message is the deferral queue payload (§6): enough to re-find the item
// and know which handler must run on re-injection. It deliberately does
// not carry the image — re-injection re-fetches or reconstructs it
// (§9 "Deferral storage").
type Message struct {
	EventID                string            `json:"eventId"`
	Keys                   map[string]string `json:"keys"`
	HandlerID              string            `json:"handlerId"`
	OriginalSequenceNumber string            `json:"originalSequenceNumber"`
}

// Client is the injection point for the deferral queue. The engine does
// not hold a queue client of its own; callers supply an implementation
// (§9).
type Client interface {
	Publish(ctx context.Context, msg Message) error
}

// HTTPClient posts Message as JSON to a single endpoint using a
// retryable HTTP client, with an outer exponential backoff budget for
// transient publish failures. This retries the queue write itself, never
// a handler's callback — per §1's non-goal, handler failures are never
// retried by the engine.
type HTTPClient struct {
	Endpoint string
	HTTP     *retryablehttp.Client
	BackOff  func() backoff.BackOff
}

// NewHTTPClient builds an HTTPClient with the teacher's default retry
// shape: a handful of exponential retries, capped, before giving up.
func NewHTTPClient(endpoint string) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3

	return &HTTPClient{
		Endpoint: endpoint,
		HTTP:     rc,
		BackOff:  defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.Multiplier = 3
	return backoff.WithMaxRetries(exp, 3)
}

// Publish implements Client.
func (c *HTTPClient) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: encode message: %w", err)
	}

	op := func() error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("queue: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("queue: publish: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("queue: publish: server error %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("queue: publish: client error %d", resp.StatusCode))
		}
		return nil
	}

	bo := defaultBackOff()
	if c.BackOff != nil {
		bo = c.BackOff()
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
