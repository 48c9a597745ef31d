// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"time"

	"github.com/ibimina/saccoledger/internal/models"
)

// DirectoryStore persists the cooperative → group → member hierarchy and
// staff profiles.
type DirectoryStore interface {
	CreateCooperative(ctx context.Context, coop *models.Cooperative) error
	GetCooperative(ctx context.Context, id string) (*models.Cooperative, error)

	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)

	// ActiveGroupByCode returns (nil, nil) when no active group matches.
	// An empty cooperativeID searches every cooperative.
	ActiveGroupByCode(ctx context.Context, cooperativeID, code string) (*models.Group, error)

	CreateMember(ctx context.Context, member *models.Member) error
	// CreateMembers inserts all members or none. A taken member code is a
	// ConflictError.
	CreateMembers(ctx context.Context, members []*models.Member) error
	GetMember(ctx context.Context, id string) (*models.Member, error)

	// ActiveMemberByCode returns (nil, nil) when no active member matches.
	ActiveMemberByCode(ctx context.Context, groupID, code string) (*models.Member, error)

	// SearchMembers returns active members ordered by full name.
	SearchMembers(ctx context.Context, q models.MemberQuery) ([]models.MemberMatch, error)

	// GetStaffProfile returns (nil, nil) for unknown users.
	GetStaffProfile(ctx context.Context, userID string) (*models.StaffProfile, error)
	UpsertStaffProfile(ctx context.Context, profile *models.StaffProfile) error
}

// LedgerStore persists accounts and insert-only ledger entries.
// Insert methods never overwrite: they report whether a row was written and
// leave conflict handling (fetch the winner) to the caller.
type LedgerStore interface {
	// FindAccount returns (nil, nil) when the account does not exist.
	FindAccount(ctx context.Context, ownerType, ownerID, currency string) (*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	InsertAccount(ctx context.Context, account *models.Account) (bool, error)

	// FindEntry returns (nil, nil) when no entry exists for (externalID, memo).
	FindEntry(ctx context.Context, externalID, memo string) (*models.LedgerEntry, error)
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error)

	// ListAccountEntries returns every entry debiting or crediting the account,
	// oldest first.
	ListAccountEntries(ctx context.Context, accountID string) ([]*models.LedgerEntry, error)
}

// PaymentStore persists payments and their originating raw messages.
type PaymentStore interface {
	// UpsertPayment inserts the payment or, when (TxnID, Amount, OccurredAt)
	// already exists, merges it into the stored row without regressing status.
	// It returns the stored row.
	UpsertPayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	GetPayment(ctx context.Context, id string) (*models.Payment, error)

	// UpdatePayment applies patch if the stored version equals expectedVersion.
	// An expectedVersion of zero skips the check.
	UpdatePayment(ctx context.Context, id string, expectedVersion int64, patch models.PaymentPatch) (*models.Payment, error)

	// UpdatePaymentsStatus moves every payment in ids to status in one
	// transaction. Any payment outside cooperativeID (when non-empty), missing,
	// or unable to make the transition aborts the whole update.
	UpdatePaymentsStatus(ctx context.Context, cooperativeID string, ids []string, status models.PaymentStatus) ([]*models.Payment, error)

	// AssignPaymentsGroup links every payment in ids to groupID in one
	// transaction and returns the payments it changed.
	AssignPaymentsGroup(ctx context.Context, cooperativeID string, ids []string, groupID string) ([]*models.Payment, error)

	// ListReconciliationRows returns payments that need attention, newest first.
	ListReconciliationRows(ctx context.Context, cooperativeID string, limit int) ([]models.ReconciliationRow, error)

	CreateRawMessage(ctx context.Context, msg *models.RawMessage) error
}

// IdempotencyStore persists cached responses keyed by (identity, key).
type IdempotencyStore interface {
	// GetIdempotency returns (nil, nil) when nothing is stored.
	GetIdempotency(ctx context.Context, identityKey, key string) (*models.IdempotencyRecord, error)

	// SaveIdempotency writes rec unless a live record already exists for the
	// same (identity, key); the first write wins. Expired records are replaced.
	SaveIdempotency(ctx context.Context, rec *models.IdempotencyRecord) (bool, error)
}

// AuditStore appends audit entries and usage counters.
type AuditStore interface {
	WriteAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, entity, entityID string) ([]*models.AuditEntry, error)
	RecordUsage(ctx context.Context, event, cooperativeID, status string, at time.Time) error
}

// Store aggregates every storage concern. This abstraction allows swapping
// storage backends (SQLite, PostgreSQL, etc.) without changing the service layer.
type Store interface {
	DirectoryStore
	LedgerStore
	PaymentStore
	IdempotencyStore
	AuditStore

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
