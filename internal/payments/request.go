package payments

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ibimina/saccoledger/internal/apperr"
)

// Request is the body of an apply-payment call.
type Request struct {
	CooperativeID string `json:"saccoId"`
	Msisdn        string `json:"msisdn"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	TxnID         string `json:"txnId"`
	OccurredAt    string `json:"occurredAt"`
	Reference     string `json:"reference,omitempty"`
	SourceID      string `json:"sourceId,omitempty"`
}

// validated is a Request that passed shape validation.
type validated struct {
	Request
	occurredAt time.Time
}

// validate checks the request shape and fills the default currency.
func (r Request) validate(defaultCurrency string) (*validated, error) {
	r.CooperativeID = strings.TrimSpace(r.CooperativeID)
	r.Msisdn = strings.TrimSpace(r.Msisdn)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.TxnID = strings.TrimSpace(r.TxnID)
	r.Reference = strings.TrimSpace(r.Reference)
	r.SourceID = strings.TrimSpace(r.SourceID)

	if _, err := uuid.Parse(r.CooperativeID); err != nil {
		return nil, apperr.Validation("saccoId", "must be a UUID")
	}
	if utf8.RuneCountInString(r.Msisdn) < 8 {
		return nil, apperr.Validation("msisdn", "must be at least 8 characters")
	}
	if r.Amount <= 0 {
		return nil, apperr.Validation("amount", "must be a positive integer")
	}
	if r.Currency == "" {
		r.Currency = defaultCurrency
	}
	if utf8.RuneCountInString(r.Currency) != 3 {
		return nil, apperr.Validation("currency", "must be 3 characters")
	}
	if utf8.RuneCountInString(r.TxnID) < 3 {
		return nil, apperr.Validation("txnId", "must be at least 3 characters")
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, r.OccurredAt)
	if err != nil {
		return nil, apperr.Validation("occurredAt", "must be a timestamp with offset")
	}
	if r.Reference != "" && utf8.RuneCountInString(r.Reference) < 3 {
		return nil, apperr.Validation("reference", "must be at least 3 characters")
	}
	if r.SourceID != "" {
		if _, err := uuid.Parse(r.SourceID); err != nil {
			return nil, apperr.Validation("sourceId", "must be a UUID")
		}
	}
	return &validated{Request: r, occurredAt: occurredAt}, nil
}

// hashInput is what the request hash covers: the normalized payload plus the
// scope and actor it was authorized for.
type hashInput struct {
	Request
	ActingCooperativeID string `json:"actingSaccoId"`
	ActorID             string `json:"actorId"`
}
