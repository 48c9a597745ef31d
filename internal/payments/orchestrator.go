// Package payments applies inbound mobile-money payments: it validates and
// authorizes the call, protects the payer phone, resolves the reference,
// upserts the payment, posts it to the ledger and caches the response for
// idempotent replay.
package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/idempotency"
	"github.com/ibimina/saccoledger/internal/ledger"
	"github.com/ibimina/saccoledger/internal/metrics"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/ratelimit"
	"github.com/ibimina/saccoledger/internal/resolver"
	"github.com/ibimina/saccoledger/internal/storage"
	"github.com/ibimina/saccoledger/internal/vault"
)

// Audit and usage identifiers.
const (
	ActionApply   = "PAYMENT_APPLY"
	ActionSettle  = "PAYMENT_SETTLE"
	EntityPayment = "PAYMENT"
	UsageApply    = "payment_apply"
)

// Caller is the authenticated identity behind a call. A zero Caller is the
// trusted service identity.
type Caller struct {
	UserID string
	Role   string
}

// Balances is the group account position after a payment.
type Balances struct {
	AccountID string `json:"accountId"`
	Balance   int64  `json:"balance"`
}

// Result is the response of an apply-payment call.
type Result struct {
	PaymentID  string               `json:"paymentId"`
	Status     models.PaymentStatus `json:"status"`
	Balances   *Balances            `json:"balances"`
	Idempotent bool                 `json:"idempotent"`
}

// Deps are the collaborators an Orchestrator is built from.
type Deps struct {
	Store           storage.Store
	Resolver        *resolver.Resolver
	Vault           *vault.Vault
	Ledger          *ledger.Engine
	Idempotency     *idempotency.Cache
	Limiter         *ratelimit.Limiter
	Metrics         *metrics.Metrics
	DefaultCurrency string
}

// Orchestrator runs the apply-payment pipeline.
type Orchestrator struct {
	store           storage.Store
	resolver        *resolver.Resolver
	vault           *vault.Vault
	ledger          *ledger.Engine
	idem            *idempotency.Cache
	limiter         *ratelimit.Limiter
	metrics         *metrics.Metrics
	defaultCurrency string
	now             func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(d Deps) *Orchestrator {
	currency := d.DefaultCurrency
	if currency == "" {
		currency = "RWF"
	}
	return &Orchestrator{
		store:           d.Store,
		resolver:        d.Resolver,
		vault:           d.Vault,
		ledger:          d.Ledger,
		idem:            d.Idempotency,
		limiter:         d.Limiter,
		metrics:         d.Metrics,
		defaultCurrency: currency,
		now:             time.Now,
	}
}

// Apply ingests one payment. Steps run strictly in order; the idempotency
// record is written only after the payment and its ledger entry are stored,
// so a failed call can always be retried with the same key.
func (o *Orchestrator) Apply(ctx context.Context, idemKey string, caller Caller, req Request) (*Result, error) {
	// 1. Idempotency key
	if idemKey == "" {
		return nil, apperr.ErrMissingIdempotencyKey
	}

	// 2. Payload shape
	in, err := req.validate(o.defaultCurrency)
	if err != nil {
		return nil, err
	}

	// 3. Scope
	sc, err := o.authorize(ctx, caller, in.CooperativeID)
	if err != nil {
		return nil, err
	}
	actingCooperativeID := sc.CooperativeID

	// 4. Rate budget
	identity := idempotency.IdentityKey(caller.UserID)
	if caller.UserID != "" {
		if err := o.limiter.Allow(identity + ":" + UsageApply); err != nil {
			return nil, err
		}
	}

	// 5. Replay
	requestHash, err := idempotency.RequestHash(hashInput{
		Request:             in.Request,
		ActingCooperativeID: actingCooperativeID,
		ActorID:             identity,
	})
	if err != nil {
		return nil, err
	}
	cached, hit, err := o.idem.Lookup(ctx, identity, idemKey, requestHash)
	if err != nil {
		return nil, err
	}
	if hit {
		var result Result
		if err := json.Unmarshal(cached, &result); err != nil {
			return nil, apperr.Dependency("decode cached response", err)
		}
		result.Idempotent = true
		o.metrics.PaymentApplied("REPLAY")
		slog.Info("Payment replayed", "payment_id", result.PaymentID, "identity", identity)
		return &result, nil
	}

	// 6. Protect the payer phone
	encrypted, err := o.vault.Encrypt(in.Msisdn)
	if err != nil {
		return nil, apperr.Dependency("encrypt msisdn", err)
	}
	masked := vault.MaskPhone(in.Msisdn)

	// 7. Resolve
	res, err := o.resolver.Resolve(ctx, in.Reference, actingCooperativeID)
	if err != nil {
		return nil, apperr.Dependency("resolve reference", err)
	}
	cooperativeID := res.CooperativeID
	if cooperativeID == "" {
		cooperativeID = in.CooperativeID
	}

	// 8. Upsert
	payment, err := o.store.UpsertPayment(ctx, &models.Payment{
		CooperativeID:   cooperativeID,
		GroupID:         res.GroupID,
		MemberID:        res.MemberID,
		Msisdn:          masked,
		MsisdnEncrypted: encrypted,
		MsisdnHash:      o.vault.HashPhone(in.Msisdn),
		MsisdnMasked:    masked,
		Amount:          in.Amount,
		Currency:        in.Currency,
		TxnID:           in.TxnID,
		Reference:       in.Reference,
		OccurredAt:      in.occurredAt,
		Status:          res.Status,
		Confidence:      1,
		SourceID:        in.SourceID,
		Channel:         models.ChannelManual,
	})
	if err != nil {
		return nil, apperr.Dependency("upsert payment", err)
	}

	// 9. Post
	if payment.Status == models.StatusPosted && payment.GroupID != "" {
		if _, err := o.ledger.PostToLedger(ctx, payment); err != nil {
			return nil, err
		}
	}

	// 10. Balance
	balances, err := o.groupBalance(ctx, payment)
	if err != nil {
		return nil, err
	}

	result := &Result{
		PaymentID: payment.ID,
		Status:    payment.Status,
		Balances:  balances,
	}

	// 11. Cache, audit, usage
	if err := o.idem.Save(ctx, identity, idemKey, requestHash, result); err != nil {
		return nil, err
	}
	o.audit(ctx, &models.AuditEntry{
		CooperativeID: payment.CooperativeID,
		ActorID:       caller.UserID,
		Action:        ActionApply,
		Entity:        EntityPayment,
		EntityID:      payment.ID,
		Diff: map[string]any{
			"amount":    in.Amount,
			"reference": nullableString(in.Reference),
			"status":    payment.Status,
		},
	})
	o.recordUsage(ctx, UsageApply, payment.CooperativeID, string(payment.Status))

	slog.Info("Payment applied",
		"payment_id", payment.ID,
		"status", payment.Status,
		"msisdn", masked,
		"amount", in.Amount,
		"identity", identity,
	)
	return result, nil
}

// scope is the cooperative and role a caller acts with.
type scope struct {
	CooperativeID string
	Role          string
}

// canWrite reports whether the scope may mutate payments.
func (sc scope) canWrite() bool {
	return (&models.StaffProfile{Role: sc.Role}).CanWrite()
}

// authorize returns the scope the caller acts in. Service calls and system
// administrators may act on any cooperative; everyone else must be assigned
// to exactly the requested one.
func (o *Orchestrator) authorize(ctx context.Context, caller Caller, requested string) (scope, error) {
	if caller.UserID == "" {
		return scope{CooperativeID: requested, Role: models.RoleSystemAdmin}, nil
	}

	profile, err := o.store.GetStaffProfile(ctx, caller.UserID)
	if err != nil {
		return scope{}, apperr.Dependency("load staff profile", err)
	}

	sc := scope{CooperativeID: requested, Role: caller.Role}
	if profile != nil {
		if profile.Role != "" {
			sc.Role = profile.Role
		}
		if profile.CooperativeID != "" {
			sc.CooperativeID = profile.CooperativeID
		}
	}

	if sc.Role == models.RoleSystemAdmin {
		return sc, nil
	}
	if profile == nil || profile.CooperativeID == "" {
		return scope{}, apperr.Forbidden("profile missing cooperative assignment")
	}
	if profile.CooperativeID != requested {
		return scope{}, apperr.Forbidden("caller is not assigned to cooperative %s", requested)
	}
	return sc, nil
}

// groupBalance returns the balance of the payment's group account, or nil
// when no group is known.
func (o *Orchestrator) groupBalance(ctx context.Context, p *models.Payment) (*Balances, error) {
	if p.GroupID == "" {
		return nil, nil
	}
	account, err := o.ledger.EnsureAccount(ctx, models.OwnerGroup, p.GroupID, p.CooperativeID, p.Currency)
	if err != nil {
		return nil, err
	}
	balance, err := o.ledger.GetBalance(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return &Balances{AccountID: account.ID, Balance: balance}, nil
}

// Settle moves a POSTED payment to SETTLED, recording the settlement entry.
// Settling an already SETTLED payment returns it unchanged.
func (o *Orchestrator) Settle(ctx context.Context, caller Caller, paymentID string) (*models.Payment, error) {
	payment, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, apperr.Dependency("get payment", err)
	}
	sc, err := o.authorize(ctx, caller, payment.CooperativeID)
	if err != nil {
		return nil, err
	}
	if !sc.canWrite() {
		return nil, apperr.Forbidden("role %s cannot settle payments", sc.Role)
	}

	switch payment.Status {
	case models.StatusSettled:
		if _, err := o.ledger.SettleLedger(ctx, payment); err != nil {
			return nil, err
		}
		return payment, nil
	case models.StatusPosted:
	default:
		return nil, apperr.Validation("status", "payment %s is %s, only POSTED payments can be settled", payment.ID, payment.Status)
	}

	if _, err := o.ledger.SettleLedger(ctx, payment); err != nil {
		return nil, err
	}
	settled := models.StatusSettled
	updated, err := o.store.UpdatePayment(ctx, payment.ID, payment.Version, models.PaymentPatch{Status: &settled})
	if err != nil {
		return nil, apperr.Dependency("update payment", err)
	}

	o.audit(ctx, &models.AuditEntry{
		CooperativeID: updated.CooperativeID,
		ActorID:       caller.UserID,
		Action:        ActionSettle,
		Entity:        EntityPayment,
		EntityID:      updated.ID,
		Diff:          map[string]any{"status": map[string]any{"from": payment.Status, "to": updated.Status}},
	})
	slog.Info("Payment settled", "payment_id", updated.ID, "amount", updated.Amount)
	return updated, nil
}

// audit writes an audit entry. Failures are logged and never returned.
func (o *Orchestrator) audit(ctx context.Context, entry *models.AuditEntry) {
	if err := o.store.WriteAudit(ctx, entry); err != nil {
		slog.Error("Failed to write audit entry", "action", entry.Action, "entity_id", entry.EntityID, "error", err)
	}
}

// recordUsage counts one event. Failures are logged and never returned.
func (o *Orchestrator) recordUsage(ctx context.Context, event, cooperativeID, status string) {
	o.metrics.PaymentApplied(status)
	if err := o.store.RecordUsage(ctx, event, cooperativeID, status, o.now()); err != nil {
		slog.Warn("Failed to record usage", "event", event, "error", err)
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
