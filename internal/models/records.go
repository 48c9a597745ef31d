package models

import "encoding/json"

// IdempotencyRecord is a cached response for (IdentityKey, Key).
type IdempotencyRecord struct {
	IdentityKey string
	Key         string
	RequestHash string
	Response    json.RawMessage
	CreatedAt   int64
	ExpiresAt   int64
}

// AuditEntry is an append-only record of a state-changing action.
type AuditEntry struct {
	ID            string
	CooperativeID string
	ActorID       string
	Action        string
	Entity        string
	EntityID      string
	Diff          map[string]any
	CreatedAt     int64
}
