package ledger

import (
	"testing"

	"github.com/ibimina/saccoledger/internal/models"
)

func TestCalculateBalances(t *testing.T) {
	tests := []struct {
		name    string
		entries []*models.LedgerEntry
		want    map[string]int64
	}{
		{
			name:    "no entries",
			entries: nil,
			want:    map[string]int64{},
		},
		{
			name: "single posting",
			entries: []*models.LedgerEntry{
				{DebitID: "clearing", CreditID: "group", Amount: 5000},
			},
			want: map[string]int64{"clearing": -5000, "group": 5000},
		},
		{
			name: "post then settle",
			entries: []*models.LedgerEntry{
				{DebitID: "clearing", CreditID: "group", Amount: 5000, Memo: models.MemoPosted},
				{DebitID: "settlement", CreditID: "clearing", Amount: 5000, Memo: models.MemoSettled},
			},
			want: map[string]int64{"clearing": 0, "group": 5000, "settlement": -5000},
		},
		{
			name: "two groups share clearing",
			entries: []*models.LedgerEntry{
				{DebitID: "clearing", CreditID: "g1", Amount: 1000},
				{DebitID: "clearing", CreditID: "g2", Amount: 2500},
				{DebitID: "clearing", CreditID: "g1", Amount: 500},
			},
			want: map[string]int64{"clearing": -4000, "g1": 1500, "g2": 2500},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBalances(tt.entries)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d accounts, want %d", len(got), len(tt.want))
			}
			var sum int64
			for id, want := range tt.want {
				bal, ok := got[id]
				if !ok {
					t.Fatalf("missing account %s", id)
				}
				if bal.Balance != want {
					t.Errorf("balance(%s) = %d, want %d", id, bal.Balance, want)
				}
				sum += bal.Balance
			}
			if sum != 0 {
				t.Errorf("balances sum to %d, want 0", sum)
			}
		})
	}
}

func TestBalanceUnknownAccount(t *testing.T) {
	entries := []*models.LedgerEntry{{DebitID: "a", CreditID: "b", Amount: 10}}
	if got := Balance("c", entries); got != 0 {
		t.Errorf("Balance of untouched account = %d, want 0", got)
	}
}
