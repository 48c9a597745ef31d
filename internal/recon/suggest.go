package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultSuggestTimeout bounds a suggestion-service call.
const DefaultSuggestTimeout = 5 * time.Second

// Candidate is one member the suggestion service proposes for a payment.
type Candidate struct {
	MemberID   string  `json:"member_id"`
	GroupID    string  `json:"ikimina_id,omitempty"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	MemberCode string  `json:"member_code,omitempty"`
}

// Suggestions is the best match, if any, and ranked alternatives.
type Suggestions struct {
	Best         *Candidate  `json:"suggestion"`
	Alternatives []Candidate `json:"alternatives"`
}

// Suggester proposes members for a payment.
type Suggester interface {
	Suggest(ctx context.Context, paymentID string) (*Suggestions, error)
}

// HTTPSuggester calls an external suggestion service over JSON.
type HTTPSuggester struct {
	url     string
	client  *http.Client
	timeout time.Duration
	policy  *bluemonday.Policy
}

// NewHTTPSuggester creates a client for the service at url. Every call is
// bounded by timeout (DefaultSuggestTimeout when non-positive).
func NewHTTPSuggester(url string, timeout time.Duration) *HTTPSuggester {
	if timeout <= 0 {
		timeout = DefaultSuggestTimeout
	}
	return &HTTPSuggester{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		policy:  bluemonday.StrictPolicy(),
	}
}

type suggestRequest struct {
	PaymentID string `json:"paymentId"`
}

type suggestError struct {
	Error string `json:"error"`
}

// Suggest posts {paymentId} and decodes the response. Candidate reasons are
// stripped of markup since they come from outside.
func (s *HTTPSuggester) Suggest(ctx context.Context, paymentID string) (*Suggestions, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(suggestRequest{PaymentID: paymentID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode suggestion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build suggestion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suggestion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read suggestion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var payload suggestError
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			return nil, fmt.Errorf("suggestion request failed: %s", s.policy.Sanitize(payload.Error))
		}
		return nil, fmt.Errorf("suggestion request failed (%d)", resp.StatusCode)
	}

	var out Suggestions
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode suggestion response: %w", err)
	}
	if out.Best != nil {
		out.Best.Reason = s.policy.Sanitize(out.Best.Reason)
	}
	for i := range out.Alternatives {
		out.Alternatives[i].Reason = s.policy.Sanitize(out.Alternatives[i].Reason)
	}
	return &out, nil
}
