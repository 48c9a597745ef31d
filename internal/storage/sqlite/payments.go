package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/models"
)

const paymentColumns = `p.id, p.cooperative_id, p.group_id, p.member_id,
	p.msisdn, p.msisdn_encrypted, p.msisdn_hash, p.msisdn_masked,
	p.amount, p.currency, p.txn_id, p.reference, p.occurred_at, p.status, p.confidence,
	p.source_id, p.channel, p.version, p.created_at, p.updated_at`

// formatOccurredAt is the canonical stored form of occurred_at. The natural
// key compares it as text, so every writer must go through here.
func formatOccurredAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func scanPayment(row rowScanner, extra ...any) (*models.Payment, error) {
	p := &models.Payment{}
	var groupID, memberID, msisdn, msisdnEnc, msisdnHash, msisdnMasked, reference, sourceID sql.NullString
	var occurredAt, status string

	dest := []any{&p.ID, &p.CooperativeID, &groupID, &memberID,
		&msisdn, &msisdnEnc, &msisdnHash, &msisdnMasked,
		&p.Amount, &p.Currency, &p.TxnID, &reference, &occurredAt, &status, &p.Confidence,
		&sourceID, &p.Channel, &p.Version, &p.CreatedAt, &p.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse occurred_at %q: %w", occurredAt, err)
	}
	parsed, err := models.ParsePaymentStatus(status)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment %s: %w", p.ID, err)
	}

	p.GroupID = groupID.String
	p.MemberID = memberID.String
	p.Msisdn = msisdn.String
	p.MsisdnEncrypted = msisdnEnc.String
	p.MsisdnHash = msisdnHash.String
	p.MsisdnMasked = msisdnMasked.String
	p.Reference = reference.String
	p.SourceID = sourceID.String
	p.OccurredAt = t
	p.Status = parsed
	return p, nil
}

func getPayment(ctx context.Context, q queryer, id string) (*models.Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments p WHERE p.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("payment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// writePayment stores every mutable column of p and bumps its version.
func writePayment(ctx context.Context, q queryer, p *models.Payment, now int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE payments SET cooperative_id = ?, group_id = ?, member_id = ?,
			msisdn = ?, msisdn_encrypted = ?, msisdn_hash = ?, msisdn_masked = ?,
			reference = ?, status = ?, confidence = ?, source_id = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ?`,
		p.CooperativeID, nullable(p.GroupID), nullable(p.MemberID),
		nullable(p.Msisdn), nullable(p.MsisdnEncrypted), nullable(p.MsisdnHash), nullable(p.MsisdnMasked),
		nullable(p.Reference), string(p.Status), p.Confidence, nullable(p.SourceID),
		now, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

// UpsertPayment inserts p or merges it into the row sharing its
// (txn_id, amount, occurred_at) key.
func (s *SQLiteStore) UpsertPayment(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	if !p.Status.Valid() {
		return nil, apperr.Validation("status", "unknown payment status %q", p.Status)
	}

	now := time.Now().Unix()
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	channel := p.Channel
	if channel == "" {
		channel = models.ChannelManual
	}
	occurredAt := formatOccurredAt(p.OccurredAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO payments (id, cooperative_id, group_id, member_id,
			msisdn, msisdn_encrypted, msisdn_hash, msisdn_masked,
			amount, currency, txn_id, reference, occurred_at, status, confidence,
			source_id, channel, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (txn_id, amount, occurred_at) DO NOTHING`,
		id, p.CooperativeID, nullable(p.GroupID), nullable(p.MemberID),
		nullable(p.Msisdn), nullable(p.MsisdnEncrypted), nullable(p.MsisdnHash), nullable(p.MsisdnMasked),
		p.Amount, p.Currency, p.TxnID, nullable(p.Reference), occurredAt, string(p.Status), p.Confidence,
		nullable(p.SourceID), channel, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	var stored *models.Payment
	if inserted == 1 {
		stored, err = getPayment(ctx, tx, id)
		if err != nil {
			return nil, err
		}
	} else {
		stored, err = scanPayment(tx.QueryRowContext(ctx,
			"SELECT "+paymentColumns+" FROM payments p WHERE p.txn_id = ? AND p.amount = ? AND p.occurred_at = ?",
			p.TxnID, p.Amount, occurredAt,
		))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch conflicting payment: %w", err)
		}
		if stored.MergeIngested(p) {
			if err := writePayment(ctx, tx, stored, now); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, nil
}

// GetPayment retrieves a payment by ID.
func (s *SQLiteStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return getPayment(ctx, s.db, id)
}

// checkTransition validates a staff status change against the lifecycle.
func checkTransition(p *models.Payment, next models.PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return apperr.Validation("status", "payment %s cannot move from %s to %s", p.ID, p.Status, next)
	}
	if (next == models.StatusPosted || next == models.StatusSettled) && p.GroupID == "" {
		return apperr.Validation("status", "payment %s has no group and cannot be %s", p.ID, next)
	}
	return nil
}

// UpdatePayment applies a staff patch under an optimistic version check.
func (s *SQLiteStore) UpdatePayment(ctx context.Context, id string, expectedVersion int64, patch models.PaymentPatch) (*models.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := getPayment(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && p.Version != expectedVersion {
		return nil, apperr.StaleVersion("payment", id, p.Version, expectedVersion)
	}

	if patch.GroupID != nil && *patch.GroupID != p.GroupID {
		p.GroupID = *patch.GroupID
		// A member belongs to exactly one group.
		if patch.MemberID == nil {
			p.MemberID = ""
		}
	}
	if patch.MemberID != nil {
		p.MemberID = *patch.MemberID
	}
	if patch.Status != nil {
		if err := checkTransition(p, *patch.Status); err != nil {
			return nil, err
		}
		p.Status = *patch.Status
	}

	if err := writePayment(ctx, tx, p, time.Now().Unix()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

// loadScoped fetches every payment in ids inside tx, failing when any is
// missing or outside cooperativeID.
func loadScoped(ctx context.Context, tx *sql.Tx, cooperativeID string, ids []string) ([]*models.Payment, error) {
	payments := make([]*models.Payment, 0, len(ids))
	for _, id := range ids {
		p, err := getPayment(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if cooperativeID != "" && p.CooperativeID != cooperativeID {
			return nil, apperr.Forbidden("payment %s belongs to another cooperative", id)
		}
		payments = append(payments, p)
	}
	return payments, nil
}

// UpdatePaymentsStatus moves every payment to status or none of them.
func (s *SQLiteStore) UpdatePaymentsStatus(ctx context.Context, cooperativeID string, ids []string, status models.PaymentStatus) ([]*models.Payment, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payments, err := loadScoped(ctx, tx, cooperativeID, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		if err := checkTransition(p, status); err != nil {
			return nil, err
		}
	}

	now := time.Now().Unix()
	for _, p := range payments {
		if p.Status == status {
			continue
		}
		p.Status = status
		if err := writePayment(ctx, tx, p, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return payments, nil
}

// AssignPaymentsGroup links every payment in ids to groupID, clearing any
// member link that belonged to a different group. Payments already in
// groupID are left alone and not returned.
func (s *SQLiteStore) AssignPaymentsGroup(ctx context.Context, cooperativeID string, ids []string, groupID string) ([]*models.Payment, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payments, err := loadScoped(ctx, tx, cooperativeID, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	var updated []*models.Payment
	for _, p := range payments {
		if p.GroupID == groupID {
			continue
		}
		p.GroupID = groupID
		p.MemberID = ""
		if err := writePayment(ctx, tx, p, now); err != nil {
			return nil, err
		}
		updated = append(updated, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// ListReconciliationRows returns the recent payments of a cooperative
// together with the state of their source message, newest first.
func (s *SQLiteStore) ListReconciliationRows(ctx context.Context, cooperativeID string, limit int) ([]models.ReconciliationRow, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT ` + paymentColumns + `, r.id IS NOT NULL, r.parsed_json IS NOT NULL
		FROM payments p
		LEFT JOIN raw_messages r ON r.id = p.source_id`
	var args []any
	if cooperativeID != "" {
		query += " WHERE p.cooperative_id = ?"
		args = append(args, cooperativeID)
	}
	query += " ORDER BY p.occurred_at DESC, p.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation rows: %w", err)
	}
	defer rows.Close()

	var result []models.ReconciliationRow
	for rows.Next() {
		var hasSource, parsed bool
		p, err := scanPayment(rows, &hasSource, &parsed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		result = append(result, models.ReconciliationRow{Payment: *p, HasSource: hasSource, SourceParsed: parsed})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return result, nil
}

// CreateRawMessage stores an originating inbound message.
func (s *SQLiteStore) CreateRawMessage(ctx context.Context, msg *models.RawMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ReceivedAt == 0 {
		msg.ReceivedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO raw_messages (id, cooperative_id, body, parsed_json, received_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.CooperativeID, msg.Body, nullable(msg.ParsedJSON), msg.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert raw message: %w", err)
	}
	return nil
}
