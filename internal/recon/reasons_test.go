package recon

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ibimina/saccoledger/internal/models"
)

func row(id, txnID, reference string, status models.PaymentStatus, confidence float64, at time.Time) models.ReconciliationRow {
	return models.ReconciliationRow{
		Payment: models.Payment{
			ID:         id,
			TxnID:      txnID,
			Reference:  reference,
			Status:     status,
			Confidence: confidence,
			Msisdn:     "250788123456",
			OccurredAt: at,
		},
		HasSource:    true,
		SourceParsed: true,
	}
}

func TestReasons(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		row    models.ReconciliationRow
		others []models.ReconciliationRow
		want   []Reason
	}{
		{
			name: "clean posted payment",
			row:  row("p1", "TX1", "RW.KGL.G001.M042", models.StatusPosted, 1, base),
			want: nil,
		},
		{
			name: "pending without reference",
			row:  row("p1", "TX1", "", models.StatusPending, 1, base),
			want: []Reason{ReasonMissingReference, ReasonManualReview},
		},
		{
			name: "unallocated low confidence",
			row:  row("p1", "TX1", "RW.KGL.G001.M999", models.StatusUnallocated, 0.5, base),
			want: []Reason{ReasonNeedsMember, ReasonLowConfidence},
		},
		{
			name:   "duplicate transaction id",
			row:    row("p1", "TX1", "RW.KGL.G001.M042", models.StatusPosted, 1, base),
			others: []models.ReconciliationRow{row("p2", "TX1", "RW.KGL.G001.M042", models.StatusPosted, 1, base)},
			want:   []Reason{ReasonDuplicate},
		},
		{
			name: "unparsed source and masked phone",
			row: func() models.ReconciliationRow {
				r := row("p1", "TX1", "RW.KGL.G001.M042", models.StatusPosted, 1, base)
				r.SourceParsed = false
				r.Msisdn = "250✱✱✱✱✱✱456"
				return r
			}(),
			want: []Reason{ReasonParserFailure, ReasonPhoneMismatch},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := NewWorkingSet(append([]models.ReconciliationRow{tt.row}, tt.others...))
			got := ws.Reasons(tt.row)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Reasons() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorkingSetFilter(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	ws := NewWorkingSet([]models.ReconciliationRow{
		row("old", "TX1", "RW.KGL.G001.M042", models.StatusPosted, 1, base),
		row("new", "TX1", "RW.KGL.G001.M042", models.StatusPosted, 1, base.Add(time.Hour)),
		row("lone", "TX2", "", models.StatusPending, 0.4, base.Add(2*time.Hour)),
	})

	ids := func(rows []models.ReconciliationRow) []string {
		var out []string
		for _, r := range rows {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"everything newest first", Filter{}, []string{"lone", "new", "old"}},
		{"duplicates only", Filter{DuplicatesOnly: true}, []string{"new", "old"}},
		{"low confidence only", Filter{LowConfidenceOnly: true}, []string{"lone"}},
		{"by status", Filter{Status: models.StatusPending}, []string{"lone"}},
		{"by reason", Filter{Reasons: []Reason{ReasonMissingReference}}, []string{"lone"}},
		{"search is case insensitive", Filter{Search: "tx2"}, []string{"lone"}},
		{"search reference", Filter{Search: "g001"}, []string{"new", "old"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(ws.Filter(tt.filter)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Filter() = %v, want %v", got, tt.want)
			}
		})
	}

	if ws.Len() != 3 {
		t.Errorf("Len() = %d, want 3", ws.Len())
	}
	if _, ok := ws.Get("missing"); ok {
		t.Error("Expected Get to miss unknown id")
	}
}

func TestParseReason(t *testing.T) {
	for _, r := range AllReasons {
		got, err := ParseReason(string(r))
		if err != nil || got != r {
			t.Errorf("ParseReason(%q) = %q, %v", r, got, err)
		}
		if Guidance[r] == "" {
			t.Errorf("No guidance for %q", r)
		}
	}
	if _, err := ParseReason("bogus"); err == nil {
		t.Error("Expected error for unknown reason")
	}
}

func TestParseReason_Aliases(t *testing.T) {
	tests := []struct {
		in   string
		want Reason
	}{
		{in: "phone-mismatch", want: ReasonPhoneMismatch},
		{in: "msisdn-mismatch", want: ReasonPhoneMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReason(tt.in)
			if err != nil || got != tt.want {
				t.Errorf("ParseReason(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestSharedReference(t *testing.T) {
	pay := func(ref string) *models.Payment { return &models.Payment{Reference: ref} }

	tests := []struct {
		name     string
		payments []*models.Payment
		wantCode string
		wantErr  error
	}{
		{"shared reference", []*models.Payment{pay("rw.kgl.g001.m042"), pay("rw.kgl.g001.m042")}, "G001", nil},
		{"missing reference", []*models.Payment{pay("RW.KGL.G001.M042"), pay("")}, "", ErrReferenceMissing},
		{"different references", []*models.Payment{pay("RW.KGL.G001.M042"), pay("RW.KGL.G002.M042")}, "", ErrReferenceMismatch},
		{"no group segment", []*models.Payment{pay("SACCO")}, "", ErrNoGroupCode},
		{"empty selection", nil, "", ErrReferenceMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, code, err := SharedReference(tt.payments)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if code != tt.wantCode {
				t.Errorf("group code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestDefaultSearchTerm(t *testing.T) {
	tests := []struct {
		name string
		p    models.Payment
		want string
	}{
		{"clear phone", models.Payment{Msisdn: "+250 788 123 456"}, "+250788123456"},
		{"masked phone falls back to member code", models.Payment{Msisdn: "250✱✱✱✱✱✱456", Reference: "RW.KGL.G001.M042"}, "M042"},
		{"nothing to search", models.Payment{Msisdn: "250****456", Reference: "RW.KGL.G001"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultSearchTerm(&tt.p); got != tt.want {
				t.Errorf("DefaultSearchTerm() = %q, want %q", got, tt.want)
			}
		})
	}
}
