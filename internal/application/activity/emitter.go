// Package activity appends immutable lifecycle events to the per-org
// activity log. Emission is fire-and-forget: a failed append degrades
// observability, never invitation state.
package activity

import (
	"context"
	"encoding/json"
	"errors"

	"stratix-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Emitter struct {
	DB *gorm.DB
}

// Event is the input to Record. InviteID/BatchID/Actor/Data are optional.
type Event struct {
	OrgID    uuid.UUID
	InviteID *uuid.UUID
	BatchID  *uuid.UUID
	Type     string
	Actor    string
	Data     map[string]interface{}
}

// Record appends one event. Errors are logged and swallowed; callers never
// observe them.
func (e *Emitter) Record(ctx context.Context, ev Event) {
	if e == nil || e.DB == nil {
		return
	}
	row := &domain.ActivityEvent{
		OrgID:     ev.OrgID,
		InviteID:  ev.InviteID,
		BatchID:   ev.BatchID,
		EventType: ev.Type,
	}
	if ev.Actor != "" {
		row.Actor = &ev.Actor
	}
	if ev.Data != nil {
		if b, err := json.Marshal(ev.Data); err == nil {
			row.EventData = datatypes.JSON(b)
		}
	}
	if err := e.DB.WithContext(ctx).Create(row).Error; err != nil {
		log.Warn().Err(err).Str("event_type", ev.Type).Str("org_id", ev.OrgID.String()).Msg("activity append failed")
	}
}

// ListOrgActivity returns the most recent events for an org, newest first.
func (e *Emitter) ListOrgActivity(ctx context.Context, orgID uuid.UUID, limit int) ([]domain.ActivityEvent, error) {
	if orgID == uuid.Nil {
		return nil, errors.New("Organization ID is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []domain.ActivityEvent
	if err := e.DB.WithContext(ctx).Where("org_id = ?", orgID).
		Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
