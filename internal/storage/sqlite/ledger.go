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

const accountColumns = "id, owner_type, owner_id, cooperative_id, currency, status, created_at"

func scanAccount(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.CooperativeID, &a.Currency, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindAccount looks an account up by its natural key.
func (s *SQLiteStore) FindAccount(ctx context.Context, ownerType, ownerID, currency string) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE owner_type = ? AND owner_id = ? AND currency = ?",
		ownerType, ownerID, currency,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return a, nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// InsertAccount writes the account unless one with the same
// (owner_type, owner_id, currency) exists. It reports whether it wrote.
func (s *SQLiteStore) InsertAccount(ctx context.Context, a *models.Account) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = models.StatusActive
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, owner_type, owner_id, cooperative_id, currency, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_type, owner_id, currency) DO NOTHING`,
		a.ID, a.OwnerType, a.OwnerID, a.CooperativeID, a.Currency, a.Status, a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

const entryColumns = "id, cooperative_id, debit_id, credit_id, amount, currency, value_date, external_id, memo, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	err := row.Scan(&e.ID, &e.CooperativeID, &e.DebitID, &e.CreditID, &e.Amount, &e.Currency,
		&e.ValueDate, &e.ExternalID, &e.Memo, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindEntry looks an entry up by (external_id, memo).
func (s *SQLiteStore) FindEntry(ctx context.Context, externalID, memo string) (*models.LedgerEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE external_id = ? AND memo = ?",
		externalID, memo,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ledger entry: %w", err)
	}
	return e, nil
}

// InsertEntry appends a ledger entry unless (external_id, memo) already
// exists. Entries are never updated.
func (s *SQLiteStore) InsertEntry(ctx context.Context, e *models.LedgerEntry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, cooperative_id, debit_id, credit_id, amount, currency, value_date, external_id, memo, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id, memo) DO NOTHING`,
		e.ID, e.CooperativeID, e.DebitID, e.CreditID, e.Amount, e.Currency, e.ValueDate, e.ExternalID, e.Memo, e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListAccountEntries returns every entry touching the account, oldest first.
func (s *SQLiteStore) ListAccountEntries(ctx context.Context, accountID string) ([]*models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE debit_id = ? OR credit_id = ? ORDER BY value_date ASC, created_at ASC, id ASC",
		accountID, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}
