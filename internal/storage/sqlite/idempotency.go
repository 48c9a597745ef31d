package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ibimina/saccoledger/internal/models"
)

// GetIdempotency returns the stored record for (identityKey, key), including
// expired ones; callers decide on expiry.
func (s *SQLiteStore) GetIdempotency(ctx context.Context, identityKey, key string) (*models.IdempotencyRecord, error) {
	rec := &models.IdempotencyRecord{}
	var response string
	err := s.db.QueryRowContext(ctx,
		`SELECT identity_key, idem_key, request_hash, response, created_at, expires_at
		 FROM idempotency WHERE identity_key = ? AND idem_key = ?`,
		identityKey, key,
	).Scan(&rec.IdentityKey, &rec.Key, &rec.RequestHash, &response, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	rec.Response = []byte(response)
	return rec, nil
}

// SaveIdempotency writes rec. A live record for the same key wins; an
// expired one is replaced.
func (s *SQLiteStore) SaveIdempotency(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency (identity_key, idem_key, request_hash, response, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (identity_key, idem_key) DO UPDATE SET
			request_hash = excluded.request_hash,
			response = excluded.response,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		 WHERE idempotency.expires_at <= excluded.created_at`,
		rec.IdentityKey, rec.Key, rec.RequestHash, string(rec.Response), rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save idempotency record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
