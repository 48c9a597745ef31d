package service

import (
	"context"
	"time"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/api"
	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/recon"
	"github.com/ibimina/saccoledger/internal/storage"
)

// ReconciliationService implements the Connect ReconciliationService on top
// of a recon.Workbench.
type ReconciliationService struct {
	store     storage.DirectoryStore
	workbench *recon.Workbench
}

var _ api.ReconciliationServiceHandler = (*ReconciliationService)(nil)

// NewReconciliationService creates a new ReconciliationService.
func NewReconciliationService(store storage.DirectoryStore, workbench *recon.Workbench) *ReconciliationService {
	return &ReconciliationService{store: store, workbench: workbench}
}

// ListExceptions returns the working set rows passing the filter, newest first.
func (s *ReconciliationService) ListExceptions(ctx context.Context, req *connect.Request[api.ListExceptionsRequest]) (*connect.Response[api.ListExceptionsResponse], error) {
	resp, err := s.listExceptions(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(api.ReconciliationServiceListExceptionsProcedure, err)
	}
	return connect.NewResponse(resp), nil
}

func (s *ReconciliationService) listExceptions(ctx context.Context, msg *api.ListExceptionsRequest) (*api.ListExceptionsResponse, error) {
	filter := recon.Filter{
		DuplicatesOnly:    msg.DuplicatesOnly,
		LowConfidenceOnly: msg.LowConfidenceOnly,
		Search:            msg.Search,
	}
	if msg.Status != "" {
		status, err := models.ParsePaymentStatus(msg.Status)
		if err != nil {
			return nil, apperr.Validation("status", "%s", err.Error())
		}
		filter.Status = status
	}
	for _, raw := range msg.Reasons {
		reason, err := recon.ParseReason(raw)
		if err != nil {
			return nil, apperr.Validation("reasons", "%s", err.Error())
		}
		filter.Reasons = append(filter.Reasons, reason)
	}

	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, err
	}
	ws, err := s.workbench.Load(ctx, actor, msg.Limit)
	if err != nil {
		return nil, err
	}

	rows := ws.Filter(filter)
	out := make([]api.Exception, len(rows))
	for i, row := range rows {
		reasons := ws.Reasons(row)
		ex := api.Exception{
			Payment:   api.NewPayment(&row.Payment),
			Reasons:   make([]string, len(reasons)),
			Guidance:  make([]string, len(reasons)),
			Duplicate: ws.IsDuplicate(row),
			HasSource: row.HasSource,
		}
		for j, r := range reasons {
			ex.Reasons[j] = string(r)
			ex.Guidance[j] = recon.Guidance[r]
		}
		out[i] = ex
	}
	return &api.ListExceptionsResponse{Exceptions: out, Total: ws.Len()}, nil
}

// action resolves the actor, runs fn and converts its outcome.
func (s *ReconciliationService) action(ctx context.Context, procedure string, fn func(actor *models.StaffProfile) (*recon.Outcome, error)) (*connect.Response[api.ActionResponse], error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, toConnectError(procedure, err)
	}
	out, err := fn(actor)
	if err != nil {
		return nil, toConnectError(procedure, err)
	}
	return connect.NewResponse(actionResponse(out)), nil
}

func actionResponse(out *recon.Outcome) *api.ActionResponse {
	resp := &api.ActionResponse{Updated: out.Updated}
	if len(out.Payments) > 0 {
		resp.Payments = api.NewPayments(out.Payments)
	}
	if out.Queued != nil {
		q := queuedAction(*out.Queued)
		resp.Queued = &q
	}
	return resp
}

func queuedAction(q recon.QueuedAction) api.QueuedAction {
	return api.QueuedAction{
		ID:        q.ID,
		Type:      q.Type,
		Payload:   string(q.Payload),
		Summary:   q.Summary,
		ActorID:   q.ActorID,
		SaccoID:   q.CooperativeID,
		CreatedAt: q.CreatedAt.Format(time.RFC3339),
	}
}

func parseStatus(raw string) (models.PaymentStatus, error) {
	status, err := models.ParsePaymentStatus(raw)
	if err != nil {
		return "", apperr.Validation("status", "%s", err.Error())
	}
	return status, nil
}

// BulkUpdateStatus moves every selected payment to one status, all or nothing.
func (s *ReconciliationService) BulkUpdateStatus(ctx context.Context, req *connect.Request[api.BulkUpdateStatusRequest]) (*connect.Response[api.ActionResponse], error) {
	return s.action(ctx, api.ReconciliationServiceBulkUpdateStatusProcedure, func(actor *models.StaffProfile) (*recon.Outcome, error) {
		status, err := parseStatus(req.Msg.Status)
		if err != nil {
			return nil, err
		}
		return s.workbench.BulkUpdateStatus(ctx, actor, req.Msg.IDs, status)
	})
}

// BulkAssignGroup links every selected payment to one ikimina.
func (s *ReconciliationService) BulkAssignGroup(ctx context.Context, req *connect.Request[api.BulkAssignGroupRequest]) (*connect.Response[api.ActionResponse], error) {
	return s.action(ctx, api.ReconciliationServiceBulkAssignGroupProcedure, func(actor *models.StaffProfile) (*recon.Outcome, error) {
		return s.workbench.BulkAssignGroup(ctx, actor, req.Msg.IDs, req.Msg.IkiminaID)
	})
}

// BulkAssignByReference assigns payments sharing one reference to its ikimina.
func (s *ReconciliationService) BulkAssignByReference(ctx context.Context, req *connect.Request[api.BulkAssignByReferenceRequest]) (*connect.Response[api.ActionResponse], error) {
	return s.action(ctx, api.ReconciliationServiceBulkAssignByReferenceProcedure, func(actor *models.StaffProfile) (*recon.Outcome, error) {
		return s.workbench.BulkAssignByReference(ctx, actor, req.Msg.IDs)
	})
}

// UpdateStatus moves one payment to a status.
func (s *ReconciliationService) UpdateStatus(ctx context.Context, req *connect.Request[api.UpdateStatusRequest]) (*connect.Response[api.ActionResponse], error) {
	return s.action(ctx, api.ReconciliationServiceUpdateStatusProcedure, func(actor *models.StaffProfile) (*recon.Outcome, error) {
		status, err := parseStatus(req.Msg.Status)
		if err != nil {
			return nil, err
		}
		return s.workbench.UpdateStatus(ctx, actor, req.Msg.PaymentID, req.Msg.ExpectedVersion, status)
	})
}

// AssignGroup links one payment to an ikimina.
func (s *ReconciliationService) AssignGroup(ctx context.Context, req *connect.Request[api.AssignGroupRequest]) (*connect.Response[api.ActionResponse], error) {
	return s.action(ctx, api.ReconciliationServiceAssignGroupProcedure, func(actor *models.StaffProfile) (*recon.Outcome, error) {
		return s.workbench.AssignGroup(ctx, actor, req.Msg.PaymentID, req.Msg.ExpectedVersion, req.Msg.IkiminaID)
	})
}

// LinkMember links one payment to a member.
func (s *ReconciliationService) LinkMember(ctx context.Context, req *connect.Request[api.LinkMemberRequest]) (*connect.Response[api.ActionResponse], error) {
	return s.action(ctx, api.ReconciliationServiceLinkMemberProcedure, func(actor *models.StaffProfile) (*recon.Outcome, error) {
		return s.workbench.LinkMember(ctx, actor, req.Msg.PaymentID, req.Msg.ExpectedVersion, req.Msg.MemberID)
	})
}

// SearchMembers finds members to link to a payment.
func (s *ReconciliationService) SearchMembers(ctx context.Context, req *connect.Request[api.SearchMembersRequest]) (*connect.Response[api.SearchMembersResponse], error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, toConnectError(api.ReconciliationServiceSearchMembersProcedure, err)
	}
	matches, err := s.workbench.SearchMembers(ctx, actor, req.Msg.PaymentID, req.Msg.Term)
	if err != nil {
		return nil, toConnectError(api.ReconciliationServiceSearchMembersProcedure, err)
	}

	members := make([]api.MemberMatch, len(matches))
	for i, m := range matches {
		members[i] = api.MemberMatch{
			ID:           m.ID,
			FullName:     m.FullName,
			MemberCode:   m.MemberCode,
			MsisdnMasked: m.MsisdnMasked,
			IkiminaID:    m.GroupID,
			IkiminaName:  m.GroupName,
		}
	}
	return connect.NewResponse(&api.SearchMembersResponse{Members: members}), nil
}

// Suggest returns the suggestion fetch state for a payment.
func (s *ReconciliationService) Suggest(ctx context.Context, req *connect.Request[api.SuggestRequest]) (*connect.Response[api.SuggestResponse], error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, toConnectError(api.ReconciliationServiceSuggestProcedure, err)
	}
	state, err := s.workbench.Suggest(ctx, actor, req.Msg.PaymentID, req.Msg.Refresh)
	if err != nil {
		return nil, toConnectError(api.ReconciliationServiceSuggestProcedure, err)
	}

	resp := &api.SuggestResponse{Phase: string(state.Phase), Error: state.Err}
	if state.IsReady() && state.Data != nil {
		resp.Suggestion = state.Data.Best
		resp.Alternatives = state.Data.Alternatives
	}
	return connect.NewResponse(resp), nil
}

// ApplySuggestion links a payment to a suggested member.
func (s *ReconciliationService) ApplySuggestion(ctx context.Context, req *connect.Request[api.ApplySuggestionRequest]) (*connect.Response[api.ActionResponse], error) {
	return s.action(ctx, api.ReconciliationServiceApplySuggestionProcedure, func(actor *models.StaffProfile) (*recon.Outcome, error) {
		return s.workbench.ApplySuggestion(ctx, actor, req.Msg.PaymentID, req.Msg.ExpectedVersion, req.Msg.Candidate)
	})
}

// ListQueuedActions lists writes deferred while the store was unreachable.
func (s *ReconciliationService) ListQueuedActions(ctx context.Context, req *connect.Request[api.ListQueuedActionsRequest]) (*connect.Response[api.ListQueuedActionsResponse], error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, toConnectError(api.ReconciliationServiceListQueuedActionsProcedure, err)
	}
	queued, err := s.workbench.QueuedActions(ctx, actor)
	if err != nil {
		return nil, toConnectError(api.ReconciliationServiceListQueuedActionsProcedure, err)
	}
	actions := make([]api.QueuedAction, len(queued))
	for i, q := range queued {
		actions[i] = queuedAction(q)
	}
	return connect.NewResponse(&api.ListQueuedActionsResponse{Actions: actions}), nil
}
