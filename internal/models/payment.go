package models

import (
	"fmt"
	"time"
)

// PaymentStatus is the resolution state of a payment.
type PaymentStatus string

const (
	// StatusPending means no reference was supplied.
	StatusPending PaymentStatus = "PENDING"
	// StatusUnallocated means a reference was present but group and/or member did not resolve.
	StatusUnallocated PaymentStatus = "UNALLOCATED"
	// StatusPosted means the payment is fully resolved and posted to the ledger.
	StatusPosted PaymentStatus = "POSTED"
	// StatusSettled means the posted funds were moved to settlement.
	StatusSettled PaymentStatus = "SETTLED"
	// StatusRejected is a staff-only terminal status.
	StatusRejected PaymentStatus = "REJECTED"
)

// PaymentStatuses lists every valid status in lifecycle order.
var PaymentStatuses = []PaymentStatus{
	StatusPending,
	StatusUnallocated,
	StatusPosted,
	StatusSettled,
	StatusRejected,
}

// ParsePaymentStatus validates a raw status value.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown payment status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the declared statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUnallocated, StatusPosted, StatusSettled, StatusRejected:
		return true
	}
	return false
}

// Rank orders statuses along the lifecycle. REJECTED ranks above everything
// so nothing can leave it.
func (s PaymentStatus) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusUnallocated:
		return 2
	case StatusPosted:
		return 3
	case StatusSettled:
		return 4
	case StatusRejected:
		return 5
	}
	return 0
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic. Staying in the same status is allowed. REJECTED can be entered
// from any status except SETTLED.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if next == StatusRejected {
		return s != StatusSettled
	}
	return next.Rank() > s.Rank()
}

// Channel a payment arrived through.
const (
	ChannelManual = "MANUAL"
	ChannelSMS    = "SMS"
)

// Payment is one mobile-money transaction as ingested.
// Uniquely identified by (TxnID, Amount, OccurredAt).
type Payment struct {
	// ID is the unique identifier (UUID format).
	ID string

	CooperativeID string

	// GroupID and MemberID are empty until resolved or assigned.
	GroupID  string
	MemberID string

	// Msisdn is the payer phone as displayed (always the masked form).
	Msisdn          string
	MsisdnEncrypted string
	MsisdnHash      string
	MsisdnMasked    string

	// Amount in minor units, always positive.
	Amount   int64
	Currency string

	// TxnID is the mobile-money operator transaction id.
	TxnID string

	// Reference is the free-text routing reference; empty when absent.
	Reference string

	OccurredAt time.Time
	Status     PaymentStatus

	// Confidence of the automated routing, 0..1.
	Confidence float64

	// SourceID links the originating raw message, if any.
	SourceID string

	Channel string

	// Version increases on every mutation.
	Version int64

	CreatedAt int64
	UpdatedAt int64
}

// RawMessage is an originating inbound message (SMS or statement line).
// ParsedJSON is empty when the parser could not extract structured fields.
type RawMessage struct {
	ID            string
	CooperativeID string
	Body          string
	ParsedJSON    string
	ReceivedAt    int64
}

// ReconciliationRow is a payment together with the state of its source message.
type ReconciliationRow struct {
	Payment

	// HasSource is true when SourceID points at an existing raw message.
	HasSource bool

	// SourceParsed is true when that message carries a structured parse result.
	SourceParsed bool
}

// MergeIngested folds a re-ingested copy of the same physical transaction
// into p. Status never regresses: status is taken from in only when it
// ranks higher, and links come along only where in carries them. Contact
// and source fields fill gaps only.
// It reports whether p changed.
func (p *Payment) MergeIngested(in *Payment) bool {
	changed := false
	if in.Status.Rank() > p.Status.Rank() && p.Status != StatusRejected {
		p.Status = in.Status
		if in.GroupID != "" {
			p.GroupID = in.GroupID
		}
		if in.MemberID != "" {
			p.MemberID = in.MemberID
		}
		if in.CooperativeID != "" {
			p.CooperativeID = in.CooperativeID
		}
		changed = true
	}
	if p.Reference == "" && in.Reference != "" {
		p.Reference = in.Reference
		changed = true
	}
	if p.SourceID == "" && in.SourceID != "" {
		p.SourceID = in.SourceID
		changed = true
	}
	if p.MsisdnEncrypted == "" && in.MsisdnEncrypted != "" {
		p.Msisdn = in.Msisdn
		p.MsisdnEncrypted = in.MsisdnEncrypted
		p.MsisdnHash = in.MsisdnHash
		p.MsisdnMasked = in.MsisdnMasked
		changed = true
	}
	if in.Confidence > p.Confidence {
		p.Confidence = in.Confidence
		changed = true
	}
	return changed
}

// PaymentPatch is a staff edit to a single payment. Nil fields are left unchanged.
type PaymentPatch struct {
	Status   *PaymentStatus
	GroupID  *string
	MemberID *string
}
