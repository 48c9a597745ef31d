package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/apperr"
	"github.com/ibimina/saccoledger/internal/idempotency"
	"github.com/ibimina/saccoledger/internal/middleware"
	"github.com/ibimina/saccoledger/internal/models"
	"github.com/ibimina/saccoledger/internal/payments"
	"github.com/ibimina/saccoledger/internal/storage"
)

var errUnauthenticated = errors.New("authentication required")

// callerFrom returns the payment caller for the request's claims.
func callerFrom(ctx context.Context) (payments.Caller, error) {
	claims := middleware.GetClaims(ctx)
	if claims == nil {
		return payments.Caller{}, connect.NewError(connect.CodeUnauthenticated, errUnauthenticated)
	}
	if claims.IsService() {
		return payments.Caller{}, nil
	}
	return payments.Caller{UserID: claims.UserID, Role: claims.Role}, nil
}

// actorFrom resolves the staff profile acting on a request. The stored
// profile wins over token claims. Service tokens act as an unscoped
// administrator. When the store is unreachable the claims stand in, so
// staff can still queue offline actions.
func actorFrom(ctx context.Context, store storage.DirectoryStore) (*models.StaffProfile, error) {
	claims := middleware.GetClaims(ctx)
	if claims == nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, errUnauthenticated)
	}
	if claims.IsService() {
		return &models.StaffProfile{UserID: idempotency.ServiceIdentity, Role: models.RoleSystemAdmin}, nil
	}

	profile, err := store.GetStaffProfile(ctx, claims.UserID)
	if err != nil {
		if fallback := claimsProfile(claims.UserID, claims.Role, claims.CooperativeID); fallback != nil {
			slog.Warn("Staff profile unavailable, using token claims", "user_id", claims.UserID, "error", err)
			return fallback, nil
		}
		return nil, apperr.Dependency("load staff profile", err)
	}
	if profile != nil {
		return profile, nil
	}
	// Without a stored profile only an administrator claim is honoured.
	if claims.Role != models.RoleSystemAdmin {
		return nil, apperr.Forbidden("profile missing cooperative assignment")
	}
	return &models.StaffProfile{UserID: claims.UserID, Role: models.RoleSystemAdmin}, nil
}

// claimsProfile builds a profile from token claims, or nil when the claims
// do not name a known role scoped to a cooperative.
func claimsProfile(userID, role, cooperativeID string) *models.StaffProfile {
	switch role {
	case models.RoleSystemAdmin:
	case models.RoleSaccoManager, models.RoleSaccoStaff, models.RoleSaccoViewer:
		if cooperativeID == "" {
			return nil
		}
	default:
		return nil
	}
	return &models.StaffProfile{UserID: userID, Role: role, CooperativeID: cooperativeID}
}

// requireScope checks actor may act on cooperativeID.
func requireScope(actor *models.StaffProfile, cooperativeID string) error {
	if actor.Role == models.RoleSystemAdmin {
		return nil
	}
	if actor.CooperativeID == "" {
		return apperr.Forbidden("profile missing cooperative assignment")
	}
	if actor.CooperativeID != cooperativeID {
		return apperr.Forbidden("caller is not assigned to cooperative %s", cooperativeID)
	}
	return nil
}
