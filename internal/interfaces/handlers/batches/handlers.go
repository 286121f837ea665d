package batches

import (
	"errors"
	"time"

	batchsvc "stratix-backend/internal/application/batches"
	policies "stratix-backend/internal/application/policies/invitations"
	"stratix-backend/internal/application/token"
	"stratix-backend/internal/middleware"
	"stratix-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *batchsvc.Service
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, batchsvc.ErrQuotaExceeded),
		errors.Is(err, batchsvc.ErrNoRecipients),
		errors.Is(err, token.ErrInvalidExpirationWindow),
		errors.Is(err, policies.ErrInvalidRole):
		return fiber.StatusBadRequest
	case errors.Is(err, policies.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, batchsvc.ErrBatchNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, batchsvc.ErrBatchNotCancellable):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

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

// SubmitRequest is the submit-batch body. ScheduledFor nil sends now.
type SubmitRequest struct {
	Recipients   []batchsvc.Recipient `json:"recipients"`
	Role         string               `json:"role"`
	AreaID       *string              `json:"area_id"`
	Message      *string              `json:"message"`
	Name         string               `json:"name"`
	ScheduledFor *time.Time           `json:"scheduled_for"`
	ValidityDays int                  `json:"validity_days"`
}

// POST /api/v1/batches/submit-batch (INVITE_USER permission via middleware)
func (h *Handlers) SubmitBatch(c *fiber.Ctx) error {
	var body SubmitRequest
	if err := c.BodyParser(&body); err != nil || len(body.Recipients) == 0 || body.Role == "" {
		return response.Error(c, "Recipients and role are required", fiber.StatusBadRequest, nil)
	}
	pc := caller(c)
	if pc == nil {
		return response.Error(c, "User is not associated with any organization", fiber.StatusForbidden, nil)
	}

	in := batchsvc.SubmitInput{
		Caller:       *pc,
		Recipients:   body.Recipients,
		Role:         body.Role,
		Message:      body.Message,
		Name:         body.Name,
		ScheduledFor: body.ScheduledFor,
		ValidityDays: body.ValidityDays,
	}
	if body.AreaID != nil {
		areaID, err := uuid.Parse(*body.AreaID)
		if err != nil {
			return response.Error(c, "area_id is invalid", fiber.StatusBadRequest, nil)
		}
		in.AreaID = &areaID
	}

	result, err := h.Service.Submit(c.Context(), in)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	// Whole-batch rejection is a 4xx above; per-recipient failures ride
	// inside a 2xx result.
	if result.Results == nil {
		return response.SuccessCreated(c, "Batch scheduled successfully", result, nil)
	}
	return response.SuccessCreated(c, "Batch processed successfully", result, nil)
}

// GET /api/v1/batches/view-batches (VIEW_DATA permission via middleware)
func (h *Handlers) ListBatches(c *fiber.Ctx) error {
	pc := caller(c)
	if pc == nil {
		return response.Error(c, "User is not associated with any organization", fiber.StatusForbidden, nil)
	}
	batches, err := h.Service.ListOrgBatches(c.Context(), pc.OrgID)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	return response.Success(c, "Batches fetched successfully", batches, nil)
}

// GET /api/v1/batches/view-batch/:batch_id (VIEW_DATA permission via middleware)
func (h *Handlers) ViewBatch(c *fiber.Ctx) error {
	pc := caller(c)
	if pc == nil {
		return response.Error(c, "User is not associated with any organization", fiber.StatusForbidden, nil)
	}
	batchID, err := uuid.Parse(c.Params("batch_id"))
	if err != nil {
		return response.Error(c, "batch_id is invalid", fiber.StatusBadRequest, nil)
	}
	batch, err := h.Service.Get(c.Context(), pc.OrgID, batchID)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	recipients, err := h.Service.ListRecipients(c.Context(), pc.OrgID, batchID)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	return response.Success(c, "Batch fetched successfully", fiber.Map{
		"batch":      batch,
		"recipients": recipients,
	}, nil)
}

// POST /api/v1/batches/cancel-batch (INVITE_USER permission via middleware)
func (h *Handlers) CancelBatch(c *fiber.Ctx) error {
	var body struct {
		BatchID string `json:"batch_id"`
	}
	if err := c.BodyParser(&body); err != nil || body.BatchID == "" {
		return response.Error(c, "batch_id is required", fiber.StatusBadRequest, nil)
	}
	batchID, err := uuid.Parse(body.BatchID)
	if err != nil {
		return response.Error(c, "batch_id is invalid", fiber.StatusBadRequest, nil)
	}
	pc := caller(c)
	if pc == nil {
		return response.Error(c, "User is not associated with any organization", fiber.StatusForbidden, nil)
	}

	batch, err := h.Service.Cancel(c.Context(), pc.OrgID, batchID, *pc)
	if err != nil {
		return response.Error(c, err.Error(), statusFor(err), nil)
	}
	return response.Success(c, "Batch cancelled successfully", batch, nil)
}
