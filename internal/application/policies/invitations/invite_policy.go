// Package policies decides whether a caller may invite, resend or cancel,
// given their role and org/area scope. Decisions are pure lookups where
// possible so they can be tested in isolation.
package policies

import (
	"errors"

	"stratix-backend/internal/constants"
	"stratix-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrForbidden is the uniform denial. It deliberately carries no
	// detail about existing invitations for the target recipient.
	ErrForbidden = errors.New("User is Forbidden from performing this action")

	// ErrInvalidRole is returned when the target role is outside the
	// closed role set.
	ErrInvalidRole = errors.New("Invalid role")
)

// Caller is the authenticated identity a policy decision runs against.
type Caller struct {
	UserID string
	Role   string
	OrgID  uuid.UUID
	AreaID *uuid.UUID
}

// ResolveInvite checks that the caller may invite at targetRole and
// resolves the area the invitation is scoped to. A caller restricted to an
// area always invites for that area, regardless of the requested one.
func ResolveInvite(caller Caller, targetRole string, requestedArea *uuid.UUID) (*uuid.UUID, error) {
	if !constants.IsValidRole(targetRole) {
		return nil, ErrInvalidRole
	}
	if !constants.AllowedRole(constants.InviteUser, caller.Role) {
		return nil, ErrForbidden
	}
	// Inviting at the top role is restricted to the top role itself.
	if targetRole == constants.Superadmin && caller.Role != constants.Superadmin {
		return nil, ErrForbidden
	}
	if !constants.RoleAtOrBelow(targetRole, caller.Role) {
		return nil, ErrForbidden
	}
	if caller.AreaID != nil {
		return caller.AreaID, nil
	}
	return requestedArea, nil
}

// CanManage checks that the caller may resend or cancel the invitation:
// its creator, any org-wide admin or superadmin, or the owner of the area
// the invitation is scoped to.
func CanManage(db *gorm.DB, caller Caller, inv *domain.Invitation) error {
	if caller.OrgID != inv.OrgID {
		return ErrForbidden
	}
	if caller.UserID == inv.CreatedBy {
		return nil
	}
	if caller.Role == constants.Admin || caller.Role == constants.Superadmin {
		return nil
	}
	if inv.AreaID != nil {
		var area domain.Area
		if err := db.Where("area_id = ?", *inv.AreaID).First(&area).Error; err == nil {
			if area.OwnerUserID != nil && area.OwnerUserID.String() == caller.UserID {
				return nil
			}
		}
	}
	return ErrForbidden
}
