package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queued action types.
const (
	ActionBulkUpdateStatus  = "payments:bulk-update-status"
	ActionBulkAssignGroup   = "payments:bulk-assign-group"
	ActionAssignByReference = "payments:assign-by-reference"
	ActionUpdateStatus      = "payments:update-status"
	ActionAssignGroup       = "payments:assign-group"
	ActionLinkMember        = "payments:link-member"
	ActionApplySuggestion   = "payments:apply-suggestion"
)

// QueuedAction is a write recorded while offline, for later replay.
// CooperativeID is empty for actions of unscoped administrators.
type QueuedAction struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Summary       string          `json:"summary"`
	ActorID       string          `json:"actorId,omitempty"`
	CooperativeID string          `json:"saccoId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Outbox stores queued actions. Replay is the consumer's job.
type Outbox interface {
	Enqueue(ctx context.Context, action QueuedAction) (QueuedAction, error)
	// List returns the actions queued in cooperativeID, or every action when
	// cooperativeID is empty.
	List(ctx context.Context, cooperativeID string) ([]QueuedAction, error)
}

// MemoryOutbox is an in-process Outbox.
type MemoryOutbox struct {
	mu    sync.Mutex
	items []QueuedAction
	now   func() time.Time
}

// NewMemoryOutbox creates an empty outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{now: time.Now}
}

// Enqueue appends action, assigning its id and timestamp.
func (o *MemoryOutbox) Enqueue(_ context.Context, action QueuedAction) (QueuedAction, error) {
	if action.Type == "" {
		return QueuedAction{}, fmt.Errorf("queued action needs a type")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	action.ID = uuid.New().String()
	action.CreatedAt = o.now()
	o.items = append(o.items, action)
	return action, nil
}

// List returns queued actions of cooperativeID, oldest first.
func (o *MemoryOutbox) List(_ context.Context, cooperativeID string) ([]QueuedAction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]QueuedAction, 0, len(o.items))
	for _, item := range o.items {
		if cooperativeID == "" || item.CooperativeID == cooperativeID {
			out = append(out, item)
		}
	}
	return out, nil
}
