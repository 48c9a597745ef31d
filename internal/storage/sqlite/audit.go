package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/saccoledger/internal/models"
)

// WriteAudit appends an audit entry. Entries are never updated.
func (s *SQLiteStore) WriteAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	diff := entry.Diff
	if diff == nil {
		diff = map[string]any{}
	}
	encoded, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("failed to encode audit diff: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, cooperative_id, actor_id, action, entity, entity_id, diff, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, nullable(entry.CooperativeID), nullable(entry.ActorID), entry.Action,
		entry.Entity, entry.EntityID, string(encoded), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail of one entity, oldest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, entity, entityID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(cooperative_id, ''), COALESCE(actor_id, ''), action, entity, entity_id, diff, created_at
		 FROM audit_logs WHERE entity = ? AND entity_id = ?
		 ORDER BY created_at ASC, rowid ASC`,
		entity, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var diff string
		if err := rows.Scan(&e.ID, &e.CooperativeID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &diff, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(diff), &e.Diff); err != nil {
			return nil, fmt.Errorf("failed to decode audit diff: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// RecordUsage increments the usage counter for (event, cooperative, status).
func (s *SQLiteStore) RecordUsage(ctx context.Context, event, cooperativeID, status string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_metrics (event, cooperative_id, status, count, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (event, cooperative_id, status) DO UPDATE SET
			count = count + 1,
			updated_at = excluded.updated_at`,
		event, cooperativeID, status, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}
