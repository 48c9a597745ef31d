package ledger

import "github.com/ibimina/saccoledger/internal/models"

// AccountBalance is the running position of one account.
type AccountBalance struct {
	AccountID     string
	TotalCredited int64
	TotalDebited  int64
	Balance       int64 // TotalCredited - TotalDebited
}

// CalculateBalances folds entries into per-account balances.
//
// Algorithm:
// - For each entry: the credit account gains amount, the debit account loses it
// - Aggregate: balance = total_credited - total_debited
//
// Every entry touches exactly two accounts, so the balances of all accounts
// in a complete entry set always sum to zero.
func CalculateBalances(entries []*models.LedgerEntry) map[string]*AccountBalance {
	balances := make(map[string]*AccountBalance)

	get := func(id string) *AccountBalance {
		if _, exists := balances[id]; !exists {
			balances[id] = &AccountBalance{AccountID: id}
		}
		return balances[id]
	}

	for _, e := range entries {
		get(e.CreditID).TotalCredited += e.Amount
		get(e.DebitID).TotalDebited += e.Amount
	}

	for _, bal := range balances {
		bal.Balance = bal.TotalCredited - bal.TotalDebited
	}
	return balances
}

// Balance returns the signed balance of accountID over entries.
func Balance(accountID string, entries []*models.LedgerEntry) int64 {
	if bal, ok := CalculateBalances(entries)[accountID]; ok {
		return bal.Balance
	}
	return 0
}
