package invitations

import (
	"errors"
	"time"

	invsvc "stratix-backend/internal/application/invitations"
	policies "stratix-backend/internal/application/policies/invitations"
	"stratix-backend/internal/application/token"
	"stratix-backend/internal/middleware"
	"stratix-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *invsvc.Service
}

// statusFor maps engine errors to HTTP codes: validation 400, forbidden
// 403, not-found 404, expiry 410, conflicts 409.
func statusFor(err error) int {
	switch {
	case errors.Is(err, invsvc.ErrInvalidRecipient),
		errors.Is(err, invsvc.ErrMessageTooLong),
		errors.Is(err, token.ErrInvalidExpirationWindow),
		errors.Is(err, policies.ErrInvalidRole):
		return fiber.StatusBadRequest
	case errors.Is(err, policies.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, invsvc.ErrInvitationNotFound),
		errors.Is(err, invsvc.ErrTokenNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, invsvc.ErrInvitationExpired):
		return fiber.StatusGone
	case errors.Is(err, invsvc.ErrDuplicateActiveInvitation),
		errors.Is(err, invsvc.ErrInvalidTransition),
		errors.Is(err, invsvc.ErrConcurrentModification):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// caller builds the policy input from the session actor. Nil when the
// session has no usable org scope.
func caller(c *fiber.Ctx) *policies.Caller {
	actor := middleware.GetActor(c)
	if actor == nil || actor.OrgID == "" {
		return nil
	}
	orgID, err := uuid.Parse(actor.OrgID)
	if err != nil {
		return nil
	}
	pc := &policies.Caller{UserID: actor.UserID, Role: actor.Role, OrgID: orgID}
	if actor.AreaID != "" {
		if areaID, err := uuid.Parse(actor.AreaID); err == nil {
			pc.AreaID = &areaID
		}
	}
	return pc
}

// GET /api/v1/invitations/view-invites (VIEW_DATA permission via middleware)
func (h *Handlers) ListInvitations(c *fiber.Ctx) error {
	pc := caller(c)
	if pc == nil {
		return response.Error(c, "User is not associated with any organization", fiber.StatusForbidden, nil)
	}

	in := invsvc.ListInput{
		OrgID:    pc.OrgID,
		Status:   c.Query("status"),
		Role:     c.Query("role"),
		Search:   c.Query("search"),
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 20),
	}
	if a := c.Query("area_id"); a != "" {
		if areaID, err := uuid.Parse(a); err == nil {
			in.AreaID = &areaID
		}
	}
	if f := c.Query("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			in.From = &t
		}
	}
	if f := c.Query("to"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			in.To = &t
		}
	}

	in.Clamp()
	items, total, err := h.Service.List(c.Context(), in)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	return response.Success(c, "Invitations fetched successfully", items,
		response.Paginated(in.Page, in.PageSize, total))
}

// POST /api/v1/invitations/resend-invite (INVITE_USER permission via middleware)
func (h *Handlers) ResendInvite(c *fiber.Ctx) error {
	var body struct {
		InviteID string `json:"invite_id"`
	}
	if err := c.BodyParser(&body); err != nil || body.InviteID == "" {
		return response.Error(c, "invite_id is required", fiber.StatusBadRequest, nil)
	}
	id, err := uuid.Parse(body.InviteID)
	if err != nil {
		return response.Error(c, "invite_id is invalid", fiber.StatusBadRequest, nil)
	}
	pc := caller(c)
	if pc == nil {
		return response.Error(c, "User is not associated with any organization", fiber.StatusForbidden, nil)
	}

	inv, err := h.Service.Resend(c.Context(), id, *pc)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	return response.Success(c, "Invitation resent successfully", inv, nil)
}

// PATCH /api/v1/invitations/revoke-invite (INVITE_USER permission via middleware)
func (h *Handlers) RevokeInvite(c *fiber.Ctx) error {
	var body struct {
		InviteID string `json:"invite_id"`
	}
	if err := c.BodyParser(&body); err != nil || body.InviteID == "" {
		return response.Error(c, "invite_id is required", fiber.StatusBadRequest, nil)
	}
	id, err := uuid.Parse(body.InviteID)
	if err != nil {
		return response.Error(c, "invite_id is invalid", fiber.StatusBadRequest, nil)
	}
	pc := caller(c)
	if pc == nil {
		return response.Error(c, "User is not associated with any organization", fiber.StatusForbidden, nil)
	}

	inv, err := h.Service.Cancel(c.Context(), id, *pc)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	return response.Success(c, "Invitation revoked successfully", inv, nil)
}

// POST /api/v1/invitations/public/accept-invite (no auth)
func (h *Handlers) AcceptInvite(c *fiber.Ctx) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&body); err != nil || body.Token == "" {
		return response.Error(c, "Invitation token required", fiber.StatusBadRequest, nil)
	}

	// An authenticated redeemer is recorded by user id, an anonymous one
	// by the invitation's own address after redemption.
	acceptedBy := ""
	if actor := middleware.GetActor(c); actor != nil {
		acceptedBy = actor.UserID
	}
	inv, err := h.Service.Accept(c.Context(), body.Token, acceptedBy)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	return response.Success(c, "Invitation accepted successfully", inv, nil)
}

// POST /api/v1/invitations/public/check-token (no auth)
func (h *Handlers) CheckToken(c *fiber.Ctx) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&body); err != nil || body.Token == "" {
		return response.Error(c, "token is required", fiber.StatusBadRequest, nil)
	}

	result, err := h.Service.CheckToken(c.Context(), body.Token)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	return response.Success(c, "Invitation token verified", result, nil)
}
