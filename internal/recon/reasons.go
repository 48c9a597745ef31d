// Package recon classifies payments that could not be posted automatically
// and carries out the staff remediation actions that resolve them.
package recon

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/resolver"
)

// Reason is an exception tag derived from a payment and its source message.
type Reason string

const (
	ReasonMissingReference Reason = "missing-reference"
	ReasonNeedsMember      Reason = "needs-member"
	ReasonDuplicate        Reason = "duplicate"
	ReasonManualReview     Reason = "manual-review"
	ReasonParserFailure    Reason = "parser-failure"
	ReasonPhoneMismatch    Reason = "phone-mismatch"
	ReasonLowConfidence    Reason = "low-confidence"
)

// AllReasons lists every reason in display order.
var AllReasons = []Reason{
	ReasonMissingReference,
	ReasonNeedsMember,
	ReasonDuplicate,
	ReasonManualReview,
	ReasonParserFailure,
	ReasonPhoneMismatch,
	ReasonLowConfidence,
}

// Guidance is the remediation hint shown next to each reason.
var Guidance = map[Reason]string{
	ReasonMissingReference: "Add a SACCO.GROUP(.MEMBER) reference before posting.",
	ReasonNeedsMember:      "Link to a member to clear unallocated funds.",
	ReasonDuplicate:        "Compare with existing transactions sharing this transaction id.",
	ReasonManualReview:     "Review supporting documents before updating status.",
	ReasonParserFailure:    "Fix the SMS format and retry the parser or assign manually.",
	ReasonPhoneMismatch:    "Capture the sender phone from statements for future auto-matching.",
	ReasonLowConfidence:    "Double-check amount and reference before marking posted.",
}

// ConfidenceThreshold is the routing confidence below which a payment is
// flagged for review.
const ConfidenceThreshold = 0.8

// reasonAliases maps older reason ids to their current form.
var reasonAliases = map[string]Reason{
	"msisdn-mismatch": ReasonPhoneMismatch,
}

// ParseReason validates a raw reason id.
func ParseReason(s string) (Reason, error) {
	if r, ok := reasonAliases[s]; ok {
		return r, nil
	}
	for _, r := range AllReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown reason %q", s)
}

// phoneHidden reports whether the payer phone is absent or only shown masked.
func phoneHidden(msisdn string) bool {
	return msisdn == "" || strings.ContainsRune(msisdn, '✱') || strings.Contains(msisdn, "****")
}

// WorkingSet is a snapshot of payments under review. Duplicate detection is
// relative to the set.
type WorkingSet struct {
	rows      []models.ReconciliationRow
	byID      map[string]int
	duplicate map[string]bool
}

// NewWorkingSet indexes rows.
func NewWorkingSet(rows []models.ReconciliationRow) *WorkingSet {
	ws := &WorkingSet{
		rows:      rows,
		byID:      make(map[string]int, len(rows)),
		duplicate: make(map[string]bool),
	}
	counts := make(map[string]int)
	for i, row := range rows {
		ws.byID[row.ID] = i
		if row.TxnID != "" {
			counts[row.TxnID]++
		}
	}
	for txnID, n := range counts {
		if n > 1 {
			ws.duplicate[txnID] = true
		}
	}
	return ws
}

// Len returns the number of rows in the set.
func (ws *WorkingSet) Len() int { return len(ws.rows) }

// Get returns the row with the given payment id.
func (ws *WorkingSet) Get(id string) (models.ReconciliationRow, bool) {
	i, ok := ws.byID[id]
	if !ok {
		return models.ReconciliationRow{}, false
	}
	return ws.rows[i], true
}

// IsDuplicate reports whether another row in the set shares row's transaction id.
func (ws *WorkingSet) IsDuplicate(row models.ReconciliationRow) bool {
	return ws.duplicate[row.TxnID]
}

// Reasons derives the exception tags of row, in display order.
func (ws *WorkingSet) Reasons(row models.ReconciliationRow) []Reason {
	var reasons []Reason
	if row.Reference == "" {
		reasons = append(reasons, ReasonMissingReference)
	}
	if row.Status == models.StatusUnallocated {
		reasons = append(reasons, ReasonNeedsMember)
	}
	if ws.IsDuplicate(row) {
		reasons = append(reasons, ReasonDuplicate)
	}
	if row.Status == models.StatusPending {
		reasons = append(reasons, ReasonManualReview)
	}
	if !row.SourceParsed {
		reasons = append(reasons, ReasonParserFailure)
	}
	if phoneHidden(row.Msisdn) {
		reasons = append(reasons, ReasonPhoneMismatch)
	}
	if row.Confidence < ConfidenceThreshold {
		reasons = append(reasons, ReasonLowConfidence)
	}
	return reasons
}

// Filter selects rows of a working set. Zero values match everything.
type Filter struct {
	Status            models.PaymentStatus
	DuplicatesOnly    bool
	LowConfidenceOnly bool
	// Search is a case-insensitive substring of reference, phone or transaction id.
	Search string
	// Reasons keeps rows carrying any of the listed reasons.
	Reasons []Reason
}

// Match reports whether row passes f.
func (ws *WorkingSet) Match(row models.ReconciliationRow, f Filter) bool {
	if f.Status != "" && row.Status != f.Status {
		return false
	}
	if f.DuplicatesOnly && !ws.IsDuplicate(row) {
		return false
	}
	if f.LowConfidenceOnly && row.Confidence >= ConfidenceThreshold {
		return false
	}
	if len(f.Reasons) > 0 {
		want := make(map[Reason]bool, len(f.Reasons))
		for _, r := range f.Reasons {
			want[r] = true
		}
		found := false
		for _, r := range ws.Reasons(row) {
			if want[r] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	query := strings.ToLower(strings.TrimSpace(f.Search))
	if query == "" {
		return true
	}
	haystack := strings.ToLower(row.Reference + " " + row.Msisdn + " " + row.TxnID)
	return strings.Contains(haystack, query)
}

// Filter returns the rows passing f, newest first.
func (ws *WorkingSet) Filter(f Filter) []models.ReconciliationRow {
	var out []models.ReconciliationRow
	for _, row := range ws.rows {
		if ws.Match(row, f) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out
}

var (
	ErrReferenceMissing  = errors.New("all selected payments must carry a reference to auto-assign")
	ErrReferenceMismatch = errors.New("selected payments do not share the same reference")
	ErrNoGroupCode       = errors.New("reference does not include a group code")
)

// SharedReference returns the single reference every payment carries and
// its group code segment. It fails when any reference is missing, when they
// differ, or when the shared one has no group segment.
func SharedReference(payments []*models.Payment) (reference, groupCode string, err error) {
	if len(payments) == 0 {
		return "", "", ErrReferenceMissing
	}
	for _, p := range payments {
		if p.Reference == "" {
			return "", "", ErrReferenceMissing
		}
		if reference == "" {
			reference = p.Reference
		} else if p.Reference != reference {
			return "", "", ErrReferenceMismatch
		}
	}
	groupCode = resolver.GroupCode(reference)
	if groupCode == "" {
		return "", "", ErrNoGroupCode
	}
	return reference, groupCode, nil
}

// DefaultSearchTerm proposes a member search for p: its phone when shown in
// clear, else the member segment of its reference.
func DefaultSearchTerm(p *models.Payment) string {
	if !phoneHidden(p.Msisdn) {
		var b strings.Builder
		for _, r := range p.Msisdn {
			if (r >= '0' && r <= '9') || r == '+' {
				b.WriteRune(r)
			}
		}
		if b.Len() >= 6 {
			return b.String()
		}
	}
	parts := resolver.Segments(resolver.Normalize(p.Reference))
	if len(parts) >= 4 {
		return parts[3]
	}
	return ""
}
