package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Activity event types, one per lifecycle transition or delivery callback.
const (
	EventInviteCreated  = "invite_created"
	EventInviteSent     = "invite_sent"
	EventDelivered      = "delivered"
	EventOpened         = "opened"
	EventClicked        = "clicked"
	EventAccepted       = "accepted"
	EventExpired        = "expired"
	EventCancelled      = "cancelled"
	EventReminderSent   = "reminder_sent"
	EventBatchSubmitted = "batch_submitted"
	EventBatchCompleted = "batch_completed"
	EventBatchCancelled = "batch_cancelled"
)

// ActivityEvent is one immutable row in the per-org activity log.
type ActivityEvent struct {
	EventID   uuid.UUID      `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	OrgID     uuid.UUID      `gorm:"column:org_id;type:uuid;not null;index" json:"org_id"`
	InviteID  *uuid.UUID     `gorm:"column:invite_id;type:uuid;index" json:"invite_id"`
	BatchID   *uuid.UUID     `gorm:"column:batch_id;type:uuid" json:"batch_id"`
	EventType string         `gorm:"column:event_type;type:varchar(30);not null" json:"event_type"`
	Actor     *string        `gorm:"column:actor" json:"actor"`
	EventData datatypes.JSON `gorm:"column:event_data" json:"event_data"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (ActivityEvent) TableName() string {
	return "ActivityEvents"
}

func (e *ActivityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	return nil
}
