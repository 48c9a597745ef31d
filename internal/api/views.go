package api

import (
	"time"

	"github.com/ibimina/saccoledger/internal/models"
)

// Payment is the wire form of a payment. Only the masked phone is exposed.
type Payment struct {
	ID         string  `json:"id"`
	SaccoID    string  `json:"saccoId"`
	IkiminaID  string  `json:"ikiminaId,omitempty"`
	MemberID   string  `json:"memberId,omitempty"`
	Msisdn     string  `json:"msisdn,omitempty"`
	Amount     int64   `json:"amount"`
	Currency   string  `json:"currency"`
	TxnID      string  `json:"txnId"`
	Reference  string  `json:"reference,omitempty"`
	OccurredAt string  `json:"occurredAt"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	SourceID   string  `json:"sourceId,omitempty"`
	Channel    string  `json:"channel"`
	Version    int64   `json:"version"`
}

// NewPayment converts a stored payment.
func NewPayment(p *models.Payment) Payment {
	msisdn := p.MsisdnMasked
	if msisdn == "" {
		msisdn = p.Msisdn
	}
	return Payment{
		ID:         p.ID,
		SaccoID:    p.CooperativeID,
		IkiminaID:  p.GroupID,
		MemberID:   p.MemberID,
		Msisdn:     msisdn,
		Amount:     p.Amount,
		Currency:   p.Currency,
		TxnID:      p.TxnID,
		Reference:  p.Reference,
		OccurredAt: p.OccurredAt.Format(time.RFC3339Nano),
		Status:     string(p.Status),
		Confidence: p.Confidence,
		SourceID:   p.SourceID,
		Channel:    p.Channel,
		Version:    p.Version,
	}
}

// NewPayments converts a list of stored payments.
func NewPayments(ps []*models.Payment) []Payment {
	out := make([]Payment, len(ps))
	for i, p := range ps {
		out[i] = NewPayment(p)
	}
	return out
}

// LedgerEntry is the wire form of a ledger entry.
type LedgerEntry struct {
	ID         string `json:"id"`
	DebitID    string `json:"debitId"`
	CreditID   string `json:"creditId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	ValueDate  int64  `json:"valueDate"`
	ExternalID string `json:"externalId"`
	Memo       string `json:"memo"`
}

// Cooperative is the wire form of a cooperative.
type Cooperative struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	District string `json:"district,omitempty"`
	Status   string `json:"status"`
}

// Group is the wire form of an ikimina.
type Group struct {
	ID      string `json:"id"`
	SaccoID string `json:"saccoId"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Status  string `json:"status"`
}

// Member is the wire form of a member. Contact details are masked.
type Member struct {
	ID               string `json:"id"`
	IkiminaID        string `json:"ikiminaId"`
	MemberCode       string `json:"memberCode"`
	FullName         string `json:"fullName"`
	MsisdnMasked     string `json:"msisdnMasked,omitempty"`
	NationalIDMasked string `json:"nationalIdMasked,omitempty"`
	Status           string `json:"status"`
}

// MemberMatch is one member search result.
type MemberMatch struct {
	ID           string `json:"id"`
	FullName     string `json:"fullName"`
	MemberCode   string `json:"memberCode"`
	MsisdnMasked string `json:"msisdnMasked,omitempty"`
	IkiminaID    string `json:"ikiminaId"`
	IkiminaName  string `json:"ikiminaName"`
}

// StaffProfile is the wire form of a staff assignment.
type StaffProfile struct {
	UserID  string `json:"userId"`
	SaccoID string `json:"saccoId,omitempty"`
	Role    string `json:"role"`
}
