package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/ledger"
	"github.com/ibimina/saccoledger/internal/metrics"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/storage"
)

// MemberSearchLimit caps member search results.
const MemberSearchLimit = 8

// Deps are the collaborators a Workbench is built from.
type Deps struct {
	Store       storage.Store
	Ledger      *ledger.Engine
	Suggestions *SuggestionCache
	Outbox      Outbox
	Metrics     *metrics.Metrics
	// Probe reports connectivity to the store. Nil means always online.
	Probe func(ctx context.Context) error
}

// Workbench runs reconciliation remediation for staff.
type Workbench struct {
	store       storage.Store
	ledger      *ledger.Engine
	suggestions *SuggestionCache
	outbox      Outbox
	metrics     *metrics.Metrics
	probe       func(ctx context.Context) error
	policy      *bluemonday.Policy
}

// NewWorkbench creates a Workbench.
func NewWorkbench(d Deps) *Workbench {
	outbox := d.Outbox
	if outbox == nil {
		outbox = NewMemoryOutbox()
	}
	suggestions := d.Suggestions
	if suggestions == nil {
		suggestions = NewSuggestionCache(nil, 0)
	}
	return &Workbench{
		store:       d.Store,
		ledger:      d.Ledger,
		suggestions: suggestions,
		outbox:      outbox,
		metrics:     d.Metrics,
		probe:       d.Probe,
		policy:      bluemonday.StrictPolicy(),
	}
}

// Outcome is the result of a write action. Exactly one of Queued or the
// applied fields is set.
type Outcome struct {
	Payments []*models.Payment
	Updated  int
	Queued   *QueuedAction
}

func (o *Outcome) changed() []*models.Payment {
	if o == nil {
		return nil
	}
	return o.Payments
}

// actionPayload is the replayable body of a queued action.
type actionPayload struct {
	IDs             []string             `json:"ids"`
	Status          models.PaymentStatus `json:"status,omitempty"`
	GroupID         string               `json:"groupId,omitempty"`
	MemberID        string               `json:"memberId,omitempty"`
	ExpectedVersion int64                `json:"expectedVersion,omitempty"`
}

// scopeOf returns the cooperative actor is confined to; empty for a system
// administrator without an assignment.
func scopeOf(actor *models.StaffProfile) (string, error) {
	if actor == nil {
		return "", apperr.Forbidden("no staff profile")
	}
	if actor.Role == models.RoleSystemAdmin {
		return actor.CooperativeID, nil
	}
	if actor.CooperativeID == "" {
		return "", apperr.Forbidden("profile missing cooperative assignment")
	}
	return actor.CooperativeID, nil
}

func requireWrite(actor *models.StaffProfile) (string, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return "", err
	}
	if !actor.CanWrite() {
		return "", apperr.Forbidden("role %s is read-only", actor.Role)
	}
	return scope, nil
}

func (w *Workbench) offline(ctx context.Context) bool {
	if w.probe == nil {
		return false
	}
	if err := w.probe(ctx); err != nil {
		slog.Warn("Store unreachable, queueing action", "error", err)
		return true
	}
	return false
}

func (w *Workbench) queue(ctx context.Context, actor *models.StaffProfile, actionType string, payload actionPayload, summary string) (*Outcome, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queued action: %w", err)
	}
	queued, err := w.outbox.Enqueue(ctx, QueuedAction{
		Type:          actionType,
		Payload:       data,
		Summary:       summary,
		ActorID:       actor.UserID,
		CooperativeID: actor.CooperativeID,
	})
	if err != nil {
		return nil, err
	}
	w.metrics.ReconAction(actionType, "queued")
	slog.Info("Action queued", "type", actionType, "summary", summary, "actor_id", actor.UserID)
	return &Outcome{Queued: &queued}, nil
}

// done records the outcome of an executed action.
func (w *Workbench) done(ctx context.Context, actor *models.StaffProfile, actionType string, err error, payments ...*models.Payment) {
	if err != nil {
		w.metrics.ReconAction(actionType, "error")
		return
	}
	w.metrics.ReconAction(actionType, "ok")
	for _, p := range payments {
		entry := &models.AuditEntry{
			CooperativeID: p.CooperativeID,
			ActorID:       actor.UserID,
			Action:        actionType,
			Entity:        "PAYMENT",
			EntityID:      p.ID,
			Diff: map[string]any{
				"status":    p.Status,
				"group_id":  p.GroupID,
				"member_id": p.MemberID,
				"version":   p.Version,
			},
		}
		if err := w.store.WriteAudit(ctx, entry); err != nil {
			slog.Error("Failed to write audit entry", "action", actionType, "entity_id", p.ID, "error", err)
		}
	}
}

// payment loads one payment inside the actor's scope.
func (w *Workbench) payment(ctx context.Context, scope, id string) (*models.Payment, error) {
	p, err := w.store.GetPayment(ctx, id)
	if err != nil {
		return nil, apperr.Dependency("get payment", err)
	}
	if scope != "" && p.CooperativeID != scope {
		return nil, apperr.Forbidden("payment %s belongs to another cooperative", id)
	}
	return p, nil
}

func (w *Workbench) payments(ctx context.Context, scope string, ids []string) ([]*models.Payment, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("ids", "select at least one payment")
	}
	out := make([]*models.Payment, 0, len(ids))
	for _, id := range ids {
		p, err := w.payment(ctx, scope, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// dedupe drops repeated and blank ids, keeping first occurrences.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// checkStatus validates a staff status change before anything is written.
func checkStatus(p *models.Payment, next models.PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return apperr.Validation("status", "payment %s cannot move from %s to %s", p.ID, p.Status, next)
	}
	if (next == models.StatusPosted || next == models.StatusSettled) && p.GroupID == "" {
		return apperr.Validation("status", "payment %s needs a group before it can be %s", p.ID, next)
	}
	return nil
}

// checkReassignable rejects moving a payment whose ledger entries are
// already written, or that was rejected, to another group.
func checkReassignable(p *models.Payment, groupID string) error {
	if p.GroupID == groupID {
		return nil
	}
	switch p.Status {
	case models.StatusPosted, models.StatusSettled, models.StatusRejected:
		return apperr.Validation("groupId", "payment %s is %s and cannot change group", p.ID, p.Status)
	}
	return nil
}

// book writes the ledger entries a staff transition to next implies.
func (w *Workbench) book(ctx context.Context, p *models.Payment, next models.PaymentStatus) error {
	switch next {
	case models.StatusPosted:
		_, err := w.ledger.PostToLedger(ctx, p)
		return err
	case models.StatusSettled:
		if _, err := w.ledger.PostToLedger(ctx, p); err != nil {
			return err
		}
		_, err := w.ledger.SettleLedger(ctx, p)
		return err
	}
	return nil
}

// group loads groupID and checks it lives in cooperativeID.
func (w *Workbench) group(ctx context.Context, cooperativeID, groupID string) (*models.Group, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, apperr.Validation("groupId", "is required")
	}
	g, err := w.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, apperr.Dependency("get group", err)
	}
	if g.CooperativeID != cooperativeID {
		return nil, apperr.Forbidden("group %s belongs to another cooperative", groupID)
	}
	return g, nil
}

// Load returns the working set visible to actor. Read-only roles may load.
func (w *Workbench) Load(ctx context.Context, actor *models.StaffProfile, limit int) (*WorkingSet, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, err
	}
	rows, err := w.store.ListReconciliationRows(ctx, scope, limit)
	if err != nil {
		return nil, apperr.Dependency("list payments", err)
	}
	return NewWorkingSet(rows), nil
}

// BulkUpdateStatus moves every selected payment to status. Any payment that
// cannot make the transition rejects the whole batch.
func (w *Workbench) BulkUpdateStatus(ctx context.Context, actor *models.StaffProfile, ids []string, status models.PaymentStatus) (out *Outcome, err error) {
	scope, err := requireWrite(actor)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.Validation("status", "unknown payment status %q", status)
	}
	ids = dedupe(ids)
	if w.offline(ctx) {
		return w.queue(ctx, actor, ActionBulkUpdateStatus, actionPayload{IDs: ids, Status: status},
			fmt.Sprintf("Mark %d payment(s) as %s", len(ids), status))
	}
	defer func() { w.done(ctx, actor, ActionBulkUpdateStatus, err, out.changed()...) }()

	selected, err := w.payments(ctx, scope, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range selected {
		if err := checkStatus(p, status); err != nil {
			return nil, err
		}
	}
	for _, p := range selected {
		if err := w.book(ctx, p, status); err != nil {
			return nil, err
		}
	}

	updated, err := w.store.UpdatePaymentsStatus(ctx, scope, ids, status)
	if err != nil {
		return nil, apperr.Dependency("update payments", err)
	}
	slog.Info("Payments status updated", "count", len(updated), "status", status, "actor_id", actor.UserID)
	return &Outcome{Payments: updated, Updated: len(updated)}, nil
}

// BulkAssignGroup links every selected payment to groupID.
func (w *Workbench) BulkAssignGroup(ctx context.Context, actor *models.StaffProfile, ids []string, groupID string) (out *Outcome, err error) {
	scope, err := requireWrite(actor)
	if err != nil {
		return nil, err
	}
	ids = dedupe(ids)
	groupID = strings.TrimSpace(groupID)
	if w.offline(ctx) {
		return w.queue(ctx, actor, ActionBulkAssignGroup, actionPayload{IDs: ids, GroupID: groupID},
			fmt.Sprintf("Assign %d payment(s) to group %s", len(ids), groupID))
	}
	defer func() { w.done(ctx, actor, ActionBulkAssignGroup, err, out.changed()...) }()

	selected, err := w.payments(ctx, scope, ids)
	if err != nil {
		return nil, err
	}
	return w.assignAll(ctx, scope, selected, groupID)
}

func (w *Workbench) assignAll(ctx context.Context, scope string, selected []*models.Payment, groupID string) (*Outcome, error) {
	for _, p := range selected {
		if _, err := w.group(ctx, p.CooperativeID, groupID); err != nil {
			return nil, err
		}
		if err := checkReassignable(p, groupID); err != nil {
			return nil, err
		}
	}
	ids := make([]string, len(selected))
	for i, p := range selected {
		ids[i] = p.ID
	}
	updated, err := w.store.AssignPaymentsGroup(ctx, scope, ids, groupID)
	if err != nil {
		return nil, apperr.Dependency("assign payments", err)
	}
	slog.Info("Payments assigned to group", "count", len(updated), "group_id", groupID)
	return &Outcome{Updated: len(updated), Payments: updated}, nil
}

// BulkAssignByReference resolves the group code of the reference every
// selected payment shares and assigns them all to it. Nothing is written
// unless all selected payments carry the same reference with a group code.
func (w *Workbench) BulkAssignByReference(ctx context.Context, actor *models.StaffProfile, ids []string) (out *Outcome, err error) {
	scope, err := requireWrite(actor)
	if err != nil {
		return nil, err
	}
	ids = dedupe(ids)
	if w.offline(ctx) {
		return w.queue(ctx, actor, ActionAssignByReference, actionPayload{IDs: ids},
			fmt.Sprintf("Assign %d payment(s) by shared reference", len(ids)))
	}
	defer func() { w.done(ctx, actor, ActionAssignByReference, err, out.changed()...) }()

	selected, err := w.payments(ctx, scope, ids)
	if err != nil {
		return nil, err
	}
	_, code, err := SharedReference(selected)
	if err != nil {
		return nil, apperr.Validation("reference", "%s", err.Error())
	}

	lookupScope := scope
	if lookupScope == "" {
		lookupScope = selected[0].CooperativeID
	}
	g, err := w.store.ActiveGroupByCode(ctx, lookupScope, code)
	if err != nil {
		return nil, apperr.Dependency("find group", err)
	}
	if g == nil {
		return nil, apperr.NotFound("group", code)
	}
	return w.assignAll(ctx, scope, selected, g.ID)
}

// UpdateStatus moves one payment to status under an optimistic version
// check. expectedVersion 0 skips the check.
func (w *Workbench) UpdateStatus(ctx context.Context, actor *models.StaffProfile, id string, expectedVersion int64, status models.PaymentStatus) (out *Outcome, err error) {
	scope, err := requireWrite(actor)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.Validation("status", "unknown payment status %q", status)
	}
	if w.offline(ctx) {
		return w.queue(ctx, actor, ActionUpdateStatus,
			actionPayload{IDs: []string{id}, Status: status, ExpectedVersion: expectedVersion},
			fmt.Sprintf("Mark payment %s as %s", id, status))
	}

	p, err := w.payment(ctx, scope, id)
	if err != nil {
		w.done(ctx, actor, ActionUpdateStatus, err)
		return nil, err
	}
	if expectedVersion != 0 && p.Version != expectedVersion {
		err = apperr.StaleVersion("payment", id, p.Version, expectedVersion)
		w.done(ctx, actor, ActionUpdateStatus, err)
		return nil, err
	}
	if err := checkStatus(p, status); err != nil {
		w.done(ctx, actor, ActionUpdateStatus, err)
		return nil, err
	}
	if err := w.book(ctx, p, status); err != nil {
		w.done(ctx, actor, ActionUpdateStatus, err)
		return nil, err
	}
	return w.patch(ctx, actor, ActionUpdateStatus, p, expectedVersion, models.PaymentPatch{Status: &status})
}

func (w *Workbench) patch(ctx context.Context, actor *models.StaffProfile, actionType string, p *models.Payment, expectedVersion int64, patch models.PaymentPatch) (*Outcome, error) {
	updated, err := w.store.UpdatePayment(ctx, p.ID, expectedVersion, patch)
	if err != nil {
		err = apperr.Dependency("update payment", err)
		w.done(ctx, actor, actionType, err)
		return nil, err
	}
	w.done(ctx, actor, actionType, nil, updated)
	return &Outcome{Payments: []*models.Payment{updated}, Updated: 1}, nil
}

// AssignGroup links one payment to groupID, clearing a member of another group.
func (w *Workbench) AssignGroup(ctx context.Context, actor *models.StaffProfile, id string, expectedVersion int64, groupID string) (*Outcome, error) {
	scope, err := requireWrite(actor)
	if err != nil {
		return nil, err
	}
	groupID = strings.TrimSpace(groupID)
	if w.offline(ctx) {
		return w.queue(ctx, actor, ActionAssignGroup,
			actionPayload{IDs: []string{id}, GroupID: groupID, ExpectedVersion: expectedVersion},
			fmt.Sprintf("Assign payment %s to group %s", id, groupID))
	}

	p, err := w.payment(ctx, scope, id)
	if err == nil {
		_, err = w.group(ctx, p.CooperativeID, groupID)
	}
	if err == nil {
		err = checkReassignable(p, groupID)
	}
	if err != nil {
		w.done(ctx, actor, ActionAssignGroup, err)
		return nil, err
	}
	return w.patch(ctx, actor, ActionAssignGroup, p, expectedVersion, models.PaymentPatch{GroupID: &groupID})
}

// LinkMember links one payment to memberID and the member's group.
func (w *Workbench) LinkMember(ctx context.Context, actor *models.StaffProfile, id string, expectedVersion int64, memberID string) (*Outcome, error) {
	return w.link(ctx, actor, ActionLinkMember, id, expectedVersion, memberID, "")
}

// link assigns memberID (and its group) to a payment. When groupID is set the
// member must belong to it.
func (w *Workbench) link(ctx context.Context, actor *models.StaffProfile, actionType, id string, expectedVersion int64, memberID, groupID string) (*Outcome, error) {
	scope, err := requireWrite(actor)
	if err != nil {
		return nil, err
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, apperr.Validation("memberId", "is required")
	}
	if w.offline(ctx) {
		return w.queue(ctx, actor, actionType,
			actionPayload{IDs: []string{id}, GroupID: groupID, MemberID: memberID, ExpectedVersion: expectedVersion},
			fmt.Sprintf("Link payment %s to member %s", id, memberID))
	}

	p, err := w.payment(ctx, scope, id)
	if err != nil {
		w.done(ctx, actor, actionType, err)
		return nil, err
	}
	member, err := w.store.GetMember(ctx, memberID)
	if err != nil {
		err = apperr.Dependency("get member", err)
		w.done(ctx, actor, actionType, err)
		return nil, err
	}
	switch {
	case member.CooperativeID != p.CooperativeID:
		err = apperr.Forbidden("member %s belongs to another cooperative", memberID)
	case member.Status != models.StatusActive:
		err = apperr.Validation("memberId", "member %s is not active", memberID)
	case groupID != "" && member.GroupID != groupID:
		err = apperr.Validation("memberId", "member %s is not in group %s", memberID, groupID)
	default:
		err = checkReassignable(p, member.GroupID)
	}
	if err != nil {
		w.done(ctx, actor, actionType, err)
		return nil, err
	}
	return w.patch(ctx, actor, actionType, p, expectedVersion, models.PaymentPatch{
		GroupID:  &member.GroupID,
		MemberID: &member.ID,
	})
}

// SearchMembers finds members to link to paymentID, within the payment's
// group when known, else its cooperative. Terms shorter than two
// characters return nothing.
func (w *Workbench) SearchMembers(ctx context.Context, actor *models.StaffProfile, paymentID, term string) ([]models.MemberMatch, error) {
	scope, err := requireWrite(actor)
	if err != nil {
		return nil, err
	}
	p, err := w.payment(ctx, scope, paymentID)
	if err != nil {
		return nil, err
	}

	term = strings.TrimSpace(strings.ReplaceAll(w.policy.Sanitize(term), "%", ""))
	if term == "" {
		term = DefaultSearchTerm(p)
	}
	if len([]rune(term)) < 2 {
		return nil, nil
	}

	q := models.MemberQuery{Term: term, Limit: MemberSearchLimit}
	if p.GroupID != "" {
		q.GroupID = p.GroupID
	} else {
		q.CooperativeID = p.CooperativeID
	}
	matches, err := w.store.SearchMembers(ctx, q)
	if err != nil {
		return nil, apperr.Dependency("search members", err)
	}
	return matches, nil
}

// Suggest returns the suggestion state for paymentID, fetching unless a
// ready result is cached. refresh bypasses the cache. A failed fetch is an
// error state, not an error.
func (w *Workbench) Suggest(ctx context.Context, actor *models.StaffProfile, paymentID string, refresh bool) (FetchState[*Suggestions], error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return FetchState[*Suggestions]{}, err
	}
	if _, err := w.payment(ctx, scope, paymentID); err != nil {
		return FetchState[*Suggestions]{}, err
	}
	return w.suggestions.Get(ctx, paymentID, refresh), nil
}

// ApplySuggestion links the suggested member exactly like LinkMember. The
// candidate's group wins over the payment's current one.
func (w *Workbench) ApplySuggestion(ctx context.Context, actor *models.StaffProfile, paymentID string, expectedVersion int64, c Candidate) (*Outcome, error) {
	scope, err := requireWrite(actor)
	if err != nil {
		return nil, err
	}
	groupID := strings.TrimSpace(c.GroupID)
	if groupID == "" {
		p, err := w.payment(ctx, scope, paymentID)
		if err != nil {
			return nil, err
		}
		groupID = p.GroupID
	}
	if groupID == "" {
		return nil, apperr.Validation("groupId", "suggestion has no group; assign a group manually")
	}

	out, err := w.link(ctx, actor, ActionApplySuggestion, paymentID, expectedVersion, c.MemberID, groupID)
	if err == nil && out.Queued == nil {
		w.suggestions.Invalidate(paymentID)
	}
	return out, err
}

// QueuedActions lists actions recorded while offline in the actor's
// cooperative. Unscoped administrators see every action.
func (w *Workbench) QueuedActions(ctx context.Context, actor *models.StaffProfile) ([]QueuedAction, error) {
	scope, err := scopeOf(actor)
	if err != nil {
		return nil, err
	}
	return w.outbox.List(ctx, scope)
}
