package models

// Account owner types.
const (
	OwnerGroup      = "IKIMINA"
	OwnerClearing   = "MOMO_CLEARING"
	OwnerSettlement = "MOMO_SETTLEMENT"
)

// Ledger memo tags. Each (ExternalID, Memo) pair exists at most once.
const (
	MemoPosted  = "POSTED"
	MemoSettled = "SETTLED"
)

// Account is a ledger account. Created on first reference, never deleted.
type Account struct {
	ID            string
	OwnerType     string
	OwnerID       string
	CooperativeID string
	Currency      string
	Status        string
	CreatedAt     int64
}

// LedgerEntry is one immutable double-entry record.
type LedgerEntry struct {
	ID            string
	CooperativeID string

	// DebitID is the account debited (balance decreases).
	DebitID string

	// CreditID is the account credited (balance increases).
	CreditID string

	Amount   int64
	Currency string

	// ValueDate is the Unix timestamp the entry takes effect.
	ValueDate int64

	// ExternalID is the payment id this entry was posted for.
	ExternalID string

	// Memo is POSTED or SETTLED.
	Memo string

	CreatedAt int64
}
