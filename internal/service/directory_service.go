package service

import (
	"context"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/api"
	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/resolver"
	"github.com/ibimina/saccoledger/internal/storage"
	"github.com/ibimina/saccoledger/internal/vault"
)

// DirectoryService implements the Connect DirectoryService: the cooperative,
// group and member records references resolve against.
type DirectoryService struct {
	store storage.Store
	vault *vault.Vault
}

var _ api.DirectoryServiceHandler = (*DirectoryService)(nil)

// NewDirectoryService creates a new DirectoryService.
func NewDirectoryService(store storage.Store, v *vault.Vault) *DirectoryService {
	return &DirectoryService{store: store, vault: v}
}

func requireAdmin(actor *models.StaffProfile) error {
	if actor.Role != models.RoleSystemAdmin {
		return apperr.Forbidden("role %s cannot manage cooperatives", actor.Role)
	}
	return nil
}

// requireManager allows administrators and managers of cooperativeID.
func requireManager(actor *models.StaffProfile, cooperativeID string) error {
	if err := requireScope(actor, cooperativeID); err != nil {
		return err
	}
	if actor.Role != models.RoleSystemAdmin && actor.Role != models.RoleSaccoManager {
		return apperr.Forbidden("role %s cannot manage the directory", actor.Role)
	}
	return nil
}

// CreateCooperative registers a cooperative.
func (s *DirectoryService) CreateCooperative(ctx context.Context, req *connect.Request[api.CreateCooperativeRequest]) (*connect.Response[api.CreateCooperativeResponse], error) {
	slog.Info("CreateCooperative request received", "name", req.Msg.Name)

	actor, err := actorFrom(ctx, s.store)
	if err == nil {
		err = requireAdmin(actor)
	}
	name := strings.TrimSpace(req.Msg.Name)
	if err == nil && name == "" {
		err = apperr.Validation("name", "is required")
	}
	if err != nil {
		return nil, toConnectError(api.DirectoryServiceCreateCooperativeProcedure, err)
	}

	coop := &models.Cooperative{Name: name, District: strings.TrimSpace(req.Msg.District)}
	if err := s.store.CreateCooperative(ctx, coop); err != nil {
		return nil, toConnectError(api.DirectoryServiceCreateCooperativeProcedure, apperr.Dependency("create cooperative", err))
	}

	slog.Info("Cooperative created", "cooperative_id", coop.ID)
	return connect.NewResponse(&api.CreateCooperativeResponse{
		Cooperative: api.Cooperative{ID: coop.ID, Name: coop.Name, District: coop.District, Status: coop.Status},
	}), nil
}

// CreateGroup registers an ikimina under a cooperative. Codes are stored in
// reference form so they match resolved reference segments.
func (s *DirectoryService) CreateGroup(ctx context.Context, req *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error) {
	slog.Info("CreateGroup request received", "cooperative_id", req.Msg.SaccoID, "code", req.Msg.Code)

	group, err := s.createGroup(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(api.DirectoryServiceCreateGroupProcedure, err)
	}

	slog.Info("Group created", "group_id", group.ID, "code", group.Code)
	return connect.NewResponse(&api.CreateGroupResponse{
		Group: api.Group{ID: group.ID, SaccoID: group.CooperativeID, Code: group.Code, Name: group.Name, Status: group.Status},
	}), nil
}

func (s *DirectoryService) createGroup(ctx context.Context, msg *api.CreateGroupRequest) (*models.Group, error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, err
	}
	cooperativeID := strings.TrimSpace(msg.SaccoID)
	if err := requireManager(actor, cooperativeID); err != nil {
		return nil, err
	}
	code := resolver.Normalize(msg.Code)
	if code == "" || strings.Contains(code, ".") {
		return nil, apperr.Validation("code", "must be a single alphanumeric segment")
	}
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	if _, err := s.store.GetCooperative(ctx, cooperativeID); err != nil {
		return nil, apperr.Dependency("get cooperative", err)
	}
	existing, err := s.store.ActiveGroupByCode(ctx, cooperativeID, code)
	if err != nil {
		return nil, apperr.Dependency("find group", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("group code %s already exists", code)
	}

	group := &models.Group{CooperativeID: cooperativeID, Code: code, Name: name}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, apperr.Dependency("create group", err)
	}
	return group, nil
}

// ImportMembers adds members to an ikimina. Phone numbers and national ids
// are encrypted, hashed and masked before they are stored.
func (s *DirectoryService) ImportMembers(ctx context.Context, req *connect.Request[api.ImportMembersRequest]) (*connect.Response[api.ImportMembersResponse], error) {
	slog.Info("ImportMembers request received", "group_id", req.Msg.IkiminaID, "members_count", len(req.Msg.Members))

	members, err := s.importMembers(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(api.DirectoryServiceImportMembersProcedure, err)
	}

	out := make([]api.Member, len(members))
	for i, m := range members {
		out[i] = api.Member{
			ID:               m.ID,
			IkiminaID:        m.GroupID,
			MemberCode:       m.MemberCode,
			FullName:         m.FullName,
			MsisdnMasked:     m.MsisdnMasked,
			NationalIDMasked: m.NationalIDMasked,
			Status:           m.Status,
		}
	}
	slog.Info("Members imported", "group_id", req.Msg.IkiminaID, "count", len(out))
	return connect.NewResponse(&api.ImportMembersResponse{Members: out}), nil
}

func (s *DirectoryService) importMembers(ctx context.Context, msg *api.ImportMembersRequest) ([]*models.Member, error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, err
	}
	group, err := s.store.GetGroup(ctx, strings.TrimSpace(msg.IkiminaID))
	if err != nil {
		return nil, apperr.Dependency("get group", err)
	}
	if err := requireManager(actor, group.CooperativeID); err != nil {
		return nil, err
	}
	if len(msg.Members) == 0 {
		return nil, apperr.Validation("members", "at least one member is required")
	}

	// Validate and protect every row before writing any.
	members := make([]*models.Member, 0, len(msg.Members))
	seen := make(map[string]bool, len(msg.Members))
	for i, in := range msg.Members {
		code := resolver.Normalize(in.MemberCode)
		if code == "" || strings.Contains(code, ".") {
			return nil, apperr.Validation("members", "row %d: member code must be a single alphanumeric segment", i+1)
		}
		if seen[code] {
			return nil, apperr.Validation("members", "row %d: duplicate member code %s", i+1, code)
		}
		seen[code] = true
		name := strings.TrimSpace(in.FullName)
		if name == "" {
			return nil, apperr.Validation("members", "row %d: full name is required", i+1)
		}

		m := &models.Member{
			CooperativeID: group.CooperativeID,
			GroupID:       group.ID,
			MemberCode:    code,
			FullName:      name,
		}
		if m.MsisdnEncrypted, m.MsisdnHash, m.MsisdnMasked, err = s.protect(strings.TrimSpace(in.Msisdn), s.vault.HashPhone, vault.MaskPhone); err != nil {
			return nil, err
		}
		if m.NationalIDEncrypted, m.NationalIDHash, m.NationalIDMasked, err = s.protect(strings.TrimSpace(in.NationalID), s.vault.Hash, vault.MaskNationalID); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	for _, m := range members {
		existing, err := s.store.ActiveMemberByCode(ctx, group.ID, m.MemberCode)
		if err != nil {
			return nil, apperr.Dependency("find member", err)
		}
		if existing != nil {
			return nil, apperr.Conflict("member code %s already exists in group %s", m.MemberCode, group.Code)
		}
	}
	if err := s.store.CreateMembers(ctx, members); err != nil {
		return nil, apperr.Dependency("create members", err)
	}
	return members, nil
}

// protect returns the encrypted, hashed and masked forms of value.
func (s *DirectoryService) protect(value string, hash, mask func(string) string) (encrypted, digest, masked string, err error) {
	if value == "" {
		return "", "", "", nil
	}
	encrypted, err = s.vault.Encrypt(value)
	if err != nil {
		return "", "", "", apperr.Dependency("encrypt member field", err)
	}
	return encrypted, hash(value), mask(value), nil
}

// UpsertStaffProfile assigns a user a role and, unless administrator, a cooperative.
func (s *DirectoryService) UpsertStaffProfile(ctx context.Context, req *connect.Request[api.UpsertStaffProfileRequest]) (*connect.Response[api.UpsertStaffProfileResponse], error) {
	slog.Info("UpsertStaffProfile request received", "user_id", req.Msg.UserID, "role", req.Msg.Role)

	profile, err := s.upsertStaffProfile(ctx, req.Msg)
	if err != nil {
		return nil, toConnectError(api.DirectoryServiceUpsertStaffProfileProcedure, err)
	}

	slog.Info("Staff profile saved", "user_id", profile.UserID, "role", profile.Role)
	return connect.NewResponse(&api.UpsertStaffProfileResponse{
		Profile: api.StaffProfile{UserID: profile.UserID, SaccoID: profile.CooperativeID, Role: profile.Role},
	}), nil
}

func (s *DirectoryService) upsertStaffProfile(ctx context.Context, msg *api.UpsertStaffProfileRequest) (*models.StaffProfile, error) {
	actor, err := actorFrom(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	profile := &models.StaffProfile{
		UserID:        strings.TrimSpace(msg.UserID),
		CooperativeID: strings.TrimSpace(msg.SaccoID),
		Role:          strings.ToUpper(strings.TrimSpace(msg.Role)),
	}
	if profile.UserID == "" {
		return nil, apperr.Validation("userId", "is required")
	}
	switch profile.Role {
	case models.RoleSystemAdmin:
	case models.RoleSaccoManager, models.RoleSaccoStaff, models.RoleSaccoViewer:
		if profile.CooperativeID == "" {
			return nil, apperr.Validation("saccoId", "is required for role %s", profile.Role)
		}
	default:
		return nil, apperr.Validation("role", "unknown role %q", msg.Role)
	}
	if profile.CooperativeID != "" {
		if _, err := s.store.GetCooperative(ctx, profile.CooperativeID); err != nil {
			return nil, apperr.Dependency("get cooperative", err)
		}
	}

	if err := s.store.UpsertStaffProfile(ctx, profile); err != nil {
		return nil, apperr.Dependency("save staff profile", err)
	}
	return profile, nil
}
