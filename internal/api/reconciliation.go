package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/recon"
)

// ReconciliationServiceName is the fully-qualified name of the ReconciliationService.
const ReconciliationServiceName = "saccoledger.v1.ReconciliationService"

const (
	ReconciliationServiceListExceptionsProcedure        = "/saccoledger.v1.ReconciliationService/ListExceptions"
	ReconciliationServiceBulkUpdateStatusProcedure      = "/saccoledger.v1.ReconciliationService/BulkUpdateStatus"
	ReconciliationServiceBulkAssignGroupProcedure       = "/saccoledger.v1.ReconciliationService/BulkAssignGroup"
	ReconciliationServiceBulkAssignByReferenceProcedure = "/saccoledger.v1.ReconciliationService/BulkAssignByReference"
	ReconciliationServiceUpdateStatusProcedure          = "/saccoledger.v1.ReconciliationService/UpdateStatus"
	ReconciliationServiceAssignGroupProcedure           = "/saccoledger.v1.ReconciliationService/AssignGroup"
	ReconciliationServiceLinkMemberProcedure            = "/saccoledger.v1.ReconciliationService/LinkMember"
	ReconciliationServiceSearchMembersProcedure         = "/saccoledger.v1.ReconciliationService/SearchMembers"
	ReconciliationServiceSuggestProcedure               = "/saccoledger.v1.ReconciliationService/Suggest"
	ReconciliationServiceApplySuggestionProcedure       = "/saccoledger.v1.ReconciliationService/ApplySuggestion"
	ReconciliationServiceListQueuedActionsProcedure     = "/saccoledger.v1.ReconciliationService/ListQueuedActions"
)

// ListExceptionsRequest filters the working set. Zero values match everything.
type ListExceptionsRequest struct {
	Status            string   `json:"status,omitempty"`
	DuplicatesOnly    bool     `json:"duplicatesOnly,omitempty"`
	LowConfidenceOnly bool     `json:"lowConfidenceOnly,omitempty"`
	Search            string   `json:"search,omitempty"`
	Reasons           []string `json:"reasons,omitempty"`
	Limit             int      `json:"limit,omitempty"`
}

// Exception is a payment with the reasons it needs attention.
type Exception struct {
	Payment   Payment  `json:"payment"`
	Reasons   []string `json:"reasons"`
	Guidance  []string `json:"guidance"`
	Duplicate bool     `json:"duplicate"`
	HasSource bool     `json:"hasSource"`
}

type ListExceptionsResponse struct {
	Exceptions []Exception `json:"exceptions"`
	Total      int         `json:"total"`
}

type BulkUpdateStatusRequest struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

type BulkAssignGroupRequest struct {
	IDs       []string `json:"ids"`
	IkiminaID string   `json:"ikiminaId"`
}

type BulkAssignByReferenceRequest struct {
	IDs []string `json:"ids"`
}

type UpdateStatusRequest struct {
	PaymentID       string `json:"paymentId"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
	Status          string `json:"status"`
}

type AssignGroupRequest struct {
	PaymentID       string `json:"paymentId"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
	IkiminaID       string `json:"ikiminaId"`
}

type LinkMemberRequest struct {
	PaymentID       string `json:"paymentId"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
	MemberID        string `json:"memberId"`
}

// QueuedAction is a write recorded while the store was unreachable.
type QueuedAction struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Payload   string `json:"payload"`
	Summary   string `json:"summary"`
	ActorID   string `json:"actorId"`
	SaccoID   string `json:"saccoId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// ActionResponse reports an applied write, or the queued action when the
// write was deferred.
type ActionResponse struct {
	Updated  int           `json:"updated"`
	Payments []Payment     `json:"payments,omitempty"`
	Queued   *QueuedAction `json:"queued,omitempty"`
}

type SearchMembersRequest struct {
	PaymentID string `json:"paymentId"`
	Term      string `json:"term,omitempty"`
}

type SearchMembersResponse struct {
	Members []MemberMatch `json:"members"`
}

type SuggestRequest struct {
	PaymentID string `json:"paymentId"`
	Refresh   bool   `json:"refresh,omitempty"`
}

// SuggestResponse is the suggestion fetch state for one payment. A failed
// fetch has phase "error" and a message; it is not an RPC error.
type SuggestResponse struct {
	Phase        string            `json:"phase"`
	Suggestion   *recon.Candidate  `json:"suggestion,omitempty"`
	Alternatives []recon.Candidate `json:"alternatives,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type ApplySuggestionRequest struct {
	PaymentID       string          `json:"paymentId"`
	ExpectedVersion int64           `json:"expectedVersion,omitempty"`
	Candidate       recon.Candidate `json:"candidate"`
}

type ListQueuedActionsRequest struct{}

type ListQueuedActionsResponse struct {
	Actions []QueuedAction `json:"actions"`
}

// ReconciliationServiceHandler is implemented by the reconciliation service.
type ReconciliationServiceHandler interface {
	ListExceptions(context.Context, *connect.Request[ListExceptionsRequest]) (*connect.Response[ListExceptionsResponse], error)
	BulkUpdateStatus(context.Context, *connect.Request[BulkUpdateStatusRequest]) (*connect.Response[ActionResponse], error)
	BulkAssignGroup(context.Context, *connect.Request[BulkAssignGroupRequest]) (*connect.Response[ActionResponse], error)
	BulkAssignByReference(context.Context, *connect.Request[BulkAssignByReferenceRequest]) (*connect.Response[ActionResponse], error)
	UpdateStatus(context.Context, *connect.Request[UpdateStatusRequest]) (*connect.Response[ActionResponse], error)
	AssignGroup(context.Context, *connect.Request[AssignGroupRequest]) (*connect.Response[ActionResponse], error)
	LinkMember(context.Context, *connect.Request[LinkMemberRequest]) (*connect.Response[ActionResponse], error)
	SearchMembers(context.Context, *connect.Request[SearchMembersRequest]) (*connect.Response[SearchMembersResponse], error)
	Suggest(context.Context, *connect.Request[SuggestRequest]) (*connect.Response[SuggestResponse], error)
	ApplySuggestion(context.Context, *connect.Request[ApplySuggestionRequest]) (*connect.Response[ActionResponse], error)
	ListQueuedActions(context.Context, *connect.Request[ListQueuedActionsRequest]) (*connect.Response[ListQueuedActionsResponse], error)
}

// NewReconciliationServiceHandler builds an HTTP handler for svc. It returns
// the path to mount the handler on.
func NewReconciliationServiceHandler(svc ReconciliationServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return "/" + ReconciliationServiceName + "/", routes{
		ReconciliationServiceListExceptionsProcedure:        connect.NewUnaryHandler(ReconciliationServiceListExceptionsProcedure, svc.ListExceptions, opts...),
		ReconciliationServiceBulkUpdateStatusProcedure:      connect.NewUnaryHandler(ReconciliationServiceBulkUpdateStatusProcedure, svc.BulkUpdateStatus, opts...),
		ReconciliationServiceBulkAssignGroupProcedure:       connect.NewUnaryHandler(ReconciliationServiceBulkAssignGroupProcedure, svc.BulkAssignGroup, opts...),
		ReconciliationServiceBulkAssignByReferenceProcedure: connect.NewUnaryHandler(ReconciliationServiceBulkAssignByReferenceProcedure, svc.BulkAssignByReference, opts...),
		ReconciliationServiceUpdateStatusProcedure:          connect.NewUnaryHandler(ReconciliationServiceUpdateStatusProcedure, svc.UpdateStatus, opts...),
		ReconciliationServiceAssignGroupProcedure:           connect.NewUnaryHandler(ReconciliationServiceAssignGroupProcedure, svc.AssignGroup, opts...),
		ReconciliationServiceLinkMemberProcedure:            connect.NewUnaryHandler(ReconciliationServiceLinkMemberProcedure, svc.LinkMember, opts...),
		ReconciliationServiceSearchMembersProcedure:         connect.NewUnaryHandler(ReconciliationServiceSearchMembersProcedure, svc.SearchMembers, opts...),
		ReconciliationServiceSuggestProcedure:               connect.NewUnaryHandler(ReconciliationServiceSuggestProcedure, svc.Suggest, opts...),
		ReconciliationServiceApplySuggestionProcedure:       connect.NewUnaryHandler(ReconciliationServiceApplySuggestionProcedure, svc.ApplySuggestion, opts...),
		ReconciliationServiceListQueuedActionsProcedure:     connect.NewUnaryHandler(ReconciliationServiceListQueuedActionsProcedure, svc.ListQueuedActions, opts...),
	}
}

// ReconciliationServiceClient calls a remote ReconciliationService.
type ReconciliationServiceClient struct {
	listExceptions        *connect.Client[ListExceptionsRequest, ListExceptionsResponse]
	bulkUpdateStatus      *connect.Client[BulkUpdateStatusRequest, ActionResponse]
	bulkAssignGroup       *connect.Client[BulkAssignGroupRequest, ActionResponse]
	bulkAssignByReference *connect.Client[BulkAssignByReferenceRequest, ActionResponse]
	updateStatus          *connect.Client[UpdateStatusRequest, ActionResponse]
	assignGroup           *connect.Client[AssignGroupRequest, ActionResponse]
	linkMember            *connect.Client[LinkMemberRequest, ActionResponse]
	searchMembers         *connect.Client[SearchMembersRequest, SearchMembersResponse]
	suggest               *connect.Client[SuggestRequest, SuggestResponse]
	applySuggestion       *connect.Client[ApplySuggestionRequest, ActionResponse]
	listQueuedActions     *connect.Client[ListQueuedActionsRequest, ListQueuedActionsResponse]
}

// NewReconciliationServiceClient creates a client for the service at baseURL.
func NewReconciliationServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ReconciliationServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &ReconciliationServiceClient{
		listExceptions:        connect.NewClient[ListExceptionsRequest, ListExceptionsResponse](httpClient, baseURL+ReconciliationServiceListExceptionsProcedure, opts...),
		bulkUpdateStatus:      connect.NewClient[BulkUpdateStatusRequest, ActionResponse](httpClient, baseURL+ReconciliationServiceBulkUpdateStatusProcedure, opts...),
		bulkAssignGroup:       connect.NewClient[BulkAssignGroupRequest, ActionResponse](httpClient, baseURL+ReconciliationServiceBulkAssignGroupProcedure, opts...),
		bulkAssignByReference: connect.NewClient[BulkAssignByReferenceRequest, ActionResponse](httpClient, baseURL+ReconciliationServiceBulkAssignByReferenceProcedure, opts...),
		updateStatus:          connect.NewClient[UpdateStatusRequest, ActionResponse](httpClient, baseURL+ReconciliationServiceUpdateStatusProcedure, opts...),
		assignGroup:           connect.NewClient[AssignGroupRequest, ActionResponse](httpClient, baseURL+ReconciliationServiceAssignGroupProcedure, opts...),
		linkMember:            connect.NewClient[LinkMemberRequest, ActionResponse](httpClient, baseURL+ReconciliationServiceLinkMemberProcedure, opts...),
		searchMembers:         connect.NewClient[SearchMembersRequest, SearchMembersResponse](httpClient, baseURL+ReconciliationServiceSearchMembersProcedure, opts...),
		suggest:               connect.NewClient[SuggestRequest, SuggestResponse](httpClient, baseURL+ReconciliationServiceSuggestProcedure, opts...),
		applySuggestion:       connect.NewClient[ApplySuggestionRequest, ActionResponse](httpClient, baseURL+ReconciliationServiceApplySuggestionProcedure, opts...),
		listQueuedActions:     connect.NewClient[ListQueuedActionsRequest, ListQueuedActionsResponse](httpClient, baseURL+ReconciliationServiceListQueuedActionsProcedure, opts...),
	}
}

func (c *ReconciliationServiceClient) ListExceptions(ctx context.Context, req *connect.Request[ListExceptionsRequest]) (*connect.Response[ListExceptionsResponse], error) {
	return c.listExceptions.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) BulkUpdateStatus(ctx context.Context, req *connect.Request[BulkUpdateStatusRequest]) (*connect.Response[ActionResponse], error) {
	return c.bulkUpdateStatus.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) BulkAssignGroup(ctx context.Context, req *connect.Request[BulkAssignGroupRequest]) (*connect.Response[ActionResponse], error) {
	return c.bulkAssignGroup.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) BulkAssignByReference(ctx context.Context, req *connect.Request[BulkAssignByReferenceRequest]) (*connect.Response[ActionResponse], error) {
	return c.bulkAssignByReference.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) UpdateStatus(ctx context.Context, req *connect.Request[UpdateStatusRequest]) (*connect.Response[ActionResponse], error) {
	return c.updateStatus.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) AssignGroup(ctx context.Context, req *connect.Request[AssignGroupRequest]) (*connect.Response[ActionResponse], error) {
	return c.assignGroup.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) LinkMember(ctx context.Context, req *connect.Request[LinkMemberRequest]) (*connect.Response[ActionResponse], error) {
	return c.linkMember.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) SearchMembers(ctx context.Context, req *connect.Request[SearchMembersRequest]) (*connect.Response[SearchMembersResponse], error) {
	return c.searchMembers.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) Suggest(ctx context.Context, req *connect.Request[SuggestRequest]) (*connect.Response[SuggestResponse], error) {
	return c.suggest.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) ApplySuggestion(ctx context.Context, req *connect.Request[ApplySuggestionRequest]) (*connect.Response[ActionResponse], error) {
	return c.applySuggestion.CallUnary(ctx, req)
}

func (c *ReconciliationServiceClient) ListQueuedActions(ctx context.Context, req *connect.Request[ListQueuedActionsRequest]) (*connect.Response[ListQueuedActionsResponse], error) {
	return c.listQueuedActions.CallUnary(ctx, req)
}
