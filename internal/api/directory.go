package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// DirectoryServiceName is the fully-qualified name of the DirectoryService.
const DirectoryServiceName = "saccoledger.v1.DirectoryService"

const (
	DirectoryServiceCreateCooperativeProcedure  = "/saccoledger.v1.DirectoryService/CreateCooperative"
	DirectoryServiceCreateGroupProcedure        = "/saccoledger.v1.DirectoryService/CreateGroup"
	DirectoryServiceImportMembersProcedure      = "/saccoledger.v1.DirectoryService/ImportMembers"
	DirectoryServiceUpsertStaffProfileProcedure = "/saccoledger.v1.DirectoryService/UpsertStaffProfile"
)

type CreateCooperativeRequest struct {
	Name     string `json:"name"`
	District string `json:"district,omitempty"`
}

type CreateCooperativeResponse struct {
	Cooperative Cooperative `json:"cooperative"`
}

type CreateGroupRequest struct {
	SaccoID string `json:"saccoId"`
	Code    string `json:"code"`
	Name    string `json:"name"`
}

type CreateGroupResponse struct {
	Group Group `json:"group"`
}

// MemberImport is one member row. Phone and national id arrive in clear and
// are only stored encrypted, hashed and masked.
type MemberImport struct {
	MemberCode string `json:"memberCode"`
	FullName   string `json:"fullName"`
	Msisdn     string `json:"msisdn,omitempty"`
	NationalID string `json:"nationalId,omitempty"`
}

type ImportMembersRequest struct {
	IkiminaID string         `json:"ikiminaId"`
	Members   []MemberImport `json:"members"`
}

type ImportMembersResponse struct {
	Members []Member `json:"members"`
}

type UpsertStaffProfileRequest struct {
	UserID  string `json:"userId"`
	SaccoID string `json:"saccoId,omitempty"`
	Role    string `json:"role"`
}

type UpsertStaffProfileResponse struct {
	Profile StaffProfile `json:"profile"`
}

// DirectoryServiceHandler is implemented by the directory service.
type DirectoryServiceHandler interface {
	CreateCooperative(context.Context, *connect.Request[CreateCooperativeRequest]) (*connect.Response[CreateCooperativeResponse], error)
	CreateGroup(context.Context, *connect.Request[CreateGroupRequest]) (*connect.Response[CreateGroupResponse], error)
	ImportMembers(context.Context, *connect.Request[ImportMembersRequest]) (*connect.Response[ImportMembersResponse], error)
	UpsertStaffProfile(context.Context, *connect.Request[UpsertStaffProfileRequest]) (*connect.Response[UpsertStaffProfileResponse], error)
}

// NewDirectoryServiceHandler builds an HTTP handler for svc. It returns the
// path to mount the handler on.
func NewDirectoryServiceHandler(svc DirectoryServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return "/" + DirectoryServiceName + "/", routes{
		DirectoryServiceCreateCooperativeProcedure:  connect.NewUnaryHandler(DirectoryServiceCreateCooperativeProcedure, svc.CreateCooperative, opts...),
		DirectoryServiceCreateGroupProcedure:        connect.NewUnaryHandler(DirectoryServiceCreateGroupProcedure, svc.CreateGroup, opts...),
		DirectoryServiceImportMembersProcedure:      connect.NewUnaryHandler(DirectoryServiceImportMembersProcedure, svc.ImportMembers, opts...),
		DirectoryServiceUpsertStaffProfileProcedure: connect.NewUnaryHandler(DirectoryServiceUpsertStaffProfileProcedure, svc.UpsertStaffProfile, opts...),
	}
}

// DirectoryServiceClient calls a remote DirectoryService.
type DirectoryServiceClient struct {
	createCooperative  *connect.Client[CreateCooperativeRequest, CreateCooperativeResponse]
	createGroup        *connect.Client[CreateGroupRequest, CreateGroupResponse]
	importMembers      *connect.Client[ImportMembersRequest, ImportMembersResponse]
	upsertStaffProfile *connect.Client[UpsertStaffProfileRequest, UpsertStaffProfileResponse]
}

// NewDirectoryServiceClient creates a client for the service at baseURL.
func NewDirectoryServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *DirectoryServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &DirectoryServiceClient{
		createCooperative:  connect.NewClient[CreateCooperativeRequest, CreateCooperativeResponse](httpClient, baseURL+DirectoryServiceCreateCooperativeProcedure, opts...),
		createGroup:        connect.NewClient[CreateGroupRequest, CreateGroupResponse](httpClient, baseURL+DirectoryServiceCreateGroupProcedure, opts...),
		importMembers:      connect.NewClient[ImportMembersRequest, ImportMembersResponse](httpClient, baseURL+DirectoryServiceImportMembersProcedure, opts...),
		upsertStaffProfile: connect.NewClient[UpsertStaffProfileRequest, UpsertStaffProfileResponse](httpClient, baseURL+DirectoryServiceUpsertStaffProfileProcedure, opts...),
	}
}

func (c *DirectoryServiceClient) CreateCooperative(ctx context.Context, req *connect.Request[CreateCooperativeRequest]) (*connect.Response[CreateCooperativeResponse], error) {
	return c.createCooperative.CallUnary(ctx, req)
}

func (c *DirectoryServiceClient) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[CreateGroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *DirectoryServiceClient) ImportMembers(ctx context.Context, req *connect.Request[ImportMembersRequest]) (*connect.Response[ImportMembersResponse], error) {
	return c.importMembers.CallUnary(ctx, req)
}

func (c *DirectoryServiceClient) UpsertStaffProfile(ctx context.Context, req *connect.Request[UpsertStaffProfileRequest]) (*connect.Response[UpsertStaffProfileResponse], error) {
	return c.upsertStaffProfile.CallUnary(ctx, req)
}
