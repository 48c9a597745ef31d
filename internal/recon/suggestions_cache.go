package recon

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long a fetched suggestion is reused.
const DefaultSessionTTL = 30 * time.Minute

// SuggestionCache keeps one suggestion FetchState per payment. Ready results
// are reused until they expire, are invalidated, or a refresh is requested.
// Failed fetches are remembered but retried on the next request.
type SuggestionCache struct {
	suggester Suggester
	states    *cache.Cache
}

// NewSuggestionCache wraps suggester with a per-payment cache.
func NewSuggestionCache(suggester Suggester, ttl time.Duration) *SuggestionCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SuggestionCache{
		suggester: suggester,
		states:    cache.New(ttl, 2*ttl),
	}
}

// State returns the current state for paymentID without fetching.
func (c *SuggestionCache) State(paymentID string) FetchState[*Suggestions] {
	if v, found := c.states.Get(paymentID); found {
		return v.(FetchState[*Suggestions])
	}
	return Idle[*Suggestions]()
}

// Get returns suggestions for paymentID, fetching when nothing usable is
// cached or refresh is set. A fetch failure is returned as an error state,
// never as an error.
func (c *SuggestionCache) Get(ctx context.Context, paymentID string, refresh bool) FetchState[*Suggestions] {
	if !refresh {
		if state := c.State(paymentID); state.Phase == PhaseReady {
			return state
		}
	}
	if c.suggester == nil {
		return Ready(&Suggestions{})
	}

	c.states.SetDefault(paymentID, Loading[*Suggestions]())
	result, err := c.suggester.Suggest(ctx, paymentID)
	var state FetchState[*Suggestions]
	if err != nil {
		slog.Warn("Suggestion fetch failed", "payment_id", paymentID, "error", err)
		state = Failed[*Suggestions](err)
	} else {
		state = Ready(result)
	}
	c.states.SetDefault(paymentID, state)
	return state
}

// Invalidate drops whatever is cached for paymentID.
func (c *SuggestionCache) Invalidate(paymentID string) {
	c.states.Delete(paymentID)
}
