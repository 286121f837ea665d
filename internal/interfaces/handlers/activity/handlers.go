package activity

import (
	actsvc "stratix-backend/internal/application/activity"
	invsvc "stratix-backend/internal/application/invitations"
	"stratix-backend/internal/domain"
	"stratix-backend/internal/middleware"
	"stratix-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Emitter     *actsvc.Emitter
	Invitations *invsvc.Service
}

// GET /api/v1/activity/view-activity (VIEW_DATA permission via middleware)
func (h *Handlers) ListActivity(c *fiber.Ctx) error {
	actor := middleware.GetActor(c)
	if actor == nil || actor.OrgID == "" {
		return response.Error(c, "User is not associated with any organization", fiber.StatusForbidden, nil)
	}
	orgID, err := uuid.Parse(actor.OrgID)
	if err != nil {
		return response.Error(c, "Authorization error", fiber.StatusInternalServerError, nil)
	}

	events, err := h.Emitter.ListOrgActivity(c.Context(), orgID, c.QueryInt("limit", 50))
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
	}
	return response.Success(c, "Activity fetched successfully", events, nil)
}

// webhookEvents maps mail-provider callback names to activity event types.
var webhookEvents = map[string]string{
	"delivered":     domain.EventDelivered,
	"opened":        domain.EventOpened,
	"unique_opened": domain.EventOpened,
	"click":         domain.EventClicked,
}

// POST /api/v1/activity/public/mail-webhook (no auth) — delivery callbacks
// from the mail provider. Always 200 on known shape: callback loss or
// replay must never affect invitation state, so there is nothing to retry.
func (h *Handlers) MailWebhook(c *fiber.Ctx) error {
	var body struct {
		Event    string `json:"event"`
		Email    string `json:"email"`
		InviteID string `json:"invite_id"`
	}
	if err := c.BodyParser(&body); err != nil || body.Event == "" {
		return response.Error(c, "event is required", fiber.StatusBadRequest, nil)
	}
	eventType, ok := webhookEvents[body.Event]
	if !ok {
		// Unknown provider events are acknowledged and dropped.
		return response.Success(c, "Event ignored", fiber.Map{}, nil)
	}
	inviteID, err := uuid.Parse(body.InviteID)
	if err != nil {
		return response.Error(c, "invite_id is invalid", fiber.StatusBadRequest, nil)
	}

	inv, err := h.Invitations.GetByID(c.Context(), inviteID)
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusNotFound, nil)
	}
	h.Emitter.Record(c.Context(), actsvc.Event{
		OrgID:    inv.OrgID,
		InviteID: &inv.InviteID,
		BatchID:  inv.BatchID,
		Type:     eventType,
		Data:     map[string]interface{}{"email": inv.Email, "provider_event": body.Event},
	})
	return response.Success(c, "Event recorded", fiber.Map{}, nil)
}
