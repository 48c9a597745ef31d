// Package ledger posts idempotent double-entry transactions for payments and
// computes account balances.
//
// Accounts are created lazily on first reference. Both account creation and
// entry writes go through insert-then-fetch-on-conflict, so concurrent callers
// converge on the single row the store's uniqueness constraints admit.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/metrics"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/storage"
)

// maxConflictRetries bounds the insert/fetch loop when a concurrent writer
// wins the insert but its row is not yet visible.
const maxConflictRetries = 3

// Engine posts and settles payments and reads balances.
type Engine struct {
	store   storage.LedgerStore
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records ledger writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the value-date clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a ledger engine over store.
func NewEngine(store storage.LedgerStore, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureAccount fetches the account for (ownerType, ownerID, currency),
// creating it in cooperativeID when absent.
func (e *Engine) EnsureAccount(ctx context.Context, ownerType, ownerID, cooperativeID, currency string) (*models.Account, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		account, err := e.store.FindAccount(ctx, ownerType, ownerID, currency)
		if err != nil {
			return nil, apperr.Dependency("find account", err)
		}
		if account != nil {
			return account, nil
		}

		account = &models.Account{
			OwnerType:     ownerType,
			OwnerID:       ownerID,
			CooperativeID: cooperativeID,
			Currency:      currency,
			Status:        models.StatusActive,
		}
		inserted, err := e.store.InsertAccount(ctx, account)
		if err != nil {
			return nil, apperr.Dependency("insert account", err)
		}
		if inserted {
			slog.Debug("Account created", "owner_type", ownerType, "owner_id", ownerID, "account_id", account.ID)
			return account, nil
		}
		// Lost the race; the next FindAccount sees the winner.
	}
	return nil, apperr.Dependency("ensure account",
		fmt.Errorf("account %s/%s/%s not visible after %d attempts", ownerType, ownerID, currency, maxConflictRetries))
}

// PostToLedger records the POSTED entry for p, moving p.Amount from the
// cooperative clearing account to the group account. Calling it again for the
// same payment returns the existing entry.
func (e *Engine) PostToLedger(ctx context.Context, p *models.Payment) (*models.LedgerEntry, error) {
	if p.GroupID == "" {
		return nil, apperr.Validation("groupId", "payment %s has no group and cannot be posted", p.ID)
	}

	clearing, err := e.EnsureAccount(ctx, models.OwnerClearing, p.CooperativeID, p.CooperativeID, p.Currency)
	if err != nil {
		return nil, err
	}
	group, err := e.EnsureAccount(ctx, models.OwnerGroup, p.GroupID, p.CooperativeID, p.Currency)
	if err != nil {
		return nil, err
	}
	return e.record(ctx, p, models.MemoPosted, clearing, group)
}

// SettleLedger records the SETTLED entry for p, moving p.Amount from clearing
// to the cooperative settlement account. It does not check that p was posted.
func (e *Engine) SettleLedger(ctx context.Context, p *models.Payment) (*models.LedgerEntry, error) {
	settlement, err := e.EnsureAccount(ctx, models.OwnerSettlement, p.CooperativeID, p.CooperativeID, p.Currency)
	if err != nil {
		return nil, err
	}
	clearing, err := e.EnsureAccount(ctx, models.OwnerClearing, p.CooperativeID, p.CooperativeID, p.Currency)
	if err != nil {
		return nil, err
	}
	return e.record(ctx, p, models.MemoSettled, settlement, clearing)
}

func (e *Engine) record(ctx context.Context, p *models.Payment, memo string, debit, credit *models.Account) (*models.LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, apperr.Validation("amount", "must be positive, got %d", p.Amount)
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		existing, err := e.store.FindEntry(ctx, p.ID, memo)
		if err != nil {
			return nil, apperr.Dependency("find ledger entry", err)
		}
		if existing != nil {
			e.metrics.LedgerEntry(memo, false)
			return existing, nil
		}

		entry := &models.LedgerEntry{
			CooperativeID: p.CooperativeID,
			DebitID:       debit.ID,
			CreditID:      credit.ID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			ValueDate:     e.now().Unix(),
			ExternalID:    p.ID,
			Memo:          memo,
		}
		inserted, err := e.store.InsertEntry(ctx, entry)
		if err != nil {
			return nil, apperr.Dependency("insert ledger entry", err)
		}
		if inserted {
			e.metrics.LedgerEntry(memo, true)
			slog.Info("Ledger entry recorded", "payment_id", p.ID, "memo", memo, "amount", p.Amount, "currency", p.Currency)
			return entry, nil
		}
	}
	return nil, apperr.Dependency("record ledger entry",
		fmt.Errorf("entry %s/%s not visible after %d attempts", p.ID, memo, maxConflictRetries))
}

// GetBalance returns credits minus debits over every entry touching accountID.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (int64, error) {
	entries, err := e.store.ListAccountEntries(ctx, accountID)
	if err != nil {
		return 0, apperr.Dependency("list ledger entries", err)
	}
	return Balance(accountID, entries), nil
}

// Statement is an account with its balance and full entry history.
type Statement struct {
	Account *models.Account
	Balance int64
	Entries []*models.LedgerEntry
}

// GetStatement returns the account, its balance and its entries, oldest first.
func (e *Engine) GetStatement(ctx context.Context, accountID string) (*Statement, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, apperr.Dependency("get account", err)
	}
	entries, err := e.store.ListAccountEntries(ctx, accountID)
	if err != nil {
		return nil, apperr.Dependency("list ledger entries", err)
	}
	return &Statement{
		Account: account,
		Balance: Balance(accountID, entries),
		Entries: entries,
	}, nil
}

// GroupAccount returns the group's account in currency, or nil when the
// group has never been posted to.
func (e *Engine) GroupAccount(ctx context.Context, groupID, currency string) (*models.Account, error) {
	account, err := e.store.FindAccount(ctx, models.OwnerGroup, groupID, currency)
	if err != nil {
		return nil, apperr.Dependency("find account", err)
	}
	return account, nil
}
