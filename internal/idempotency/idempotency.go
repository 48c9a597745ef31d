// Package idempotency deduplicates retried calls by (caller identity,
// idempotency key), replaying the first successful response.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/storage"
)

// DefaultTTL is how long a cached response is replayed.
const DefaultTTL = 24 * time.Hour

// ServiceIdentity is the identity key for calls without an authenticated user.
const ServiceIdentity = "service-role"

// Cache looks up and saves idempotent responses.
type Cache struct {
	store storage.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Cache. A non-positive ttl uses DefaultTTL.
func New(store storage.IdempotencyStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

// IdentityKey returns the identity a record is stored under.
func IdentityKey(userID string) string {
	if userID == "" {
		return ServiceIdentity
	}
	return userID
}

// RequestHash returns the hex SHA-256 of v's JSON encoding.
func RequestHash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Lookup returns the cached response for (identity, key). It reports a
// ConflictError when the key was used for a different request.
func (c *Cache) Lookup(ctx context.Context, identity, key, requestHash string) (json.RawMessage, bool, error) {
	rec, err := c.store.GetIdempotency(ctx, identity, key)
	if err != nil {
		return nil, false, apperr.Dependency("get idempotency record", err)
	}
	if rec == nil || c.expired(rec) {
		return nil, false, nil
	}
	if rec.RequestHash != requestHash {
		return nil, false, apperr.Conflict("idempotency key %q was already used for a different request", key)
	}
	return rec.Response, true, nil
}

// Save stores response for (identity, key). When a concurrent identical call
// saved first, its record stands.
func (c *Cache) Save(ctx context.Context, identity, key, requestHash string, response any) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	now := c.now()
	saved, err := c.store.SaveIdempotency(ctx, &models.IdempotencyRecord{
		IdentityKey: identity,
		Key:         key,
		RequestHash: requestHash,
		Response:    data,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(c.ttl).Unix(),
	})
	if err != nil {
		return apperr.Dependency("save idempotency record", err)
	}
	if !saved {
		slog.Debug("Idempotency record already present", "identity", identity, "key", key)
	}
	return nil
}

func (c *Cache) expired(rec *models.IdempotencyRecord) bool {
	return rec.ExpiresAt <= c.now().Unix()
}
