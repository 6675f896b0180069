// Package verifier posts the finished episode trace to an external
// verifier service as a best-effort hand-off (spec.md §6.3, §7
// "VerifierError ... logged; EndEpisode still succeeds"). Grounded on
// original_source/server/service.py's EndEpisode verifier POST block and
// prime_stack/adapters/envhub_to_verifier.py's build_trace payload shape.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Payload is the JSON body posted to <verifier_url>/verify.
type Payload struct {
	EpisodeID    string           `json:"episode_id"`
	Model        string           `json:"model"`
	PromptFP     string           `json:"prompt_fp,omitempty"`
	Tokens       string           `json:"tokens"`
	AcceptedMask []bool           `json:"accepted_mask"`
	Tools        []map[string]any `json:"tools"`
	Metrics      map[string]any   `json:"metrics"`
	PolicyMeta   map[string]any   `json:"policy_meta"`
	Meta         map[string]any   `json:"meta"`
}

// Result is the verifier's JSON response, passed through opaquely.
type Result map[string]any

// Client posts episode traces to a configured verifier endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client posting to baseURL, or a disabled client if
// baseURL is empty (Post then always returns a nil Result and nil error).
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

// Enabled reports whether a verifier URL was configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Post submits payload to <baseURL>/verify, retrying transient failures
// with bounded exponential backoff inside the client's 30s timeout
// budget. A nil error with a nil Result means the verifier is disabled;
// callers must still treat EndEpisode as successful either way (spec.md
// §7, VerifierError policy).
func (c *Client) Post(ctx context.Context, payload Payload) (Result, error) {
	if !c.Enabled() {
		return nil, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("verifier: marshal payload: %w", err)
	}

	operation := func() (Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("verifier: server error %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return nil, backoff.Permanent(fmt.Errorf("verifier: unexpected status %d", resp.StatusCode))
		}

		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("verifier: decode response: %w", err))
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
		backoff.WithMaxElapsedTime(25*time.Second),
	)
	if err != nil {
		logrus.WithError(err).WithField("episode_id", payload.EpisodeID).Warn("verifier call failed")
		return nil, err
	}
	return result, nil
}
