package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Invitation statuses. "expired" is never stored; it is derived from
// ExpiresAt at read time (see EffectiveStatus).
const (
	InviteStatusPending   = "pending"
	InviteStatusSent      = "sent"
	InviteStatusAccepted  = "accepted"
	InviteStatusCancelled = "cancelled"

	// InviteStatusExpired is a derived, read-only status value used in
	// list filters and API responses.
	InviteStatusExpired = "expired"
)

// Invitation is one offer for one recipient to join an org at a role,
// optionally scoped to an area. The token is single-use and rotated on
// every resend.
type Invitation struct {
	InviteID       uuid.UUID      `gorm:"column:invite_id;type:uuid;primaryKey" json:"invite_id"`
	OrgID          uuid.UUID      `gorm:"column:org_id;type:uuid;not null;index" json:"org_id"`
	AreaID         *uuid.UUID     `gorm:"column:area_id;type:uuid" json:"area_id"`
	Email          string         `gorm:"column:email;not null" json:"email"`
	Role           string         `gorm:"column:role;not null" json:"role"`
	Status         string         `gorm:"column:status;not null;default:'pending'" json:"status"`
	InviteToken    string         `gorm:"column:invite_token;not null;uniqueIndex" json:"-"`
	CustomMessage  *string        `gorm:"column:custom_message;type:varchar(500)" json:"custom_message"`
	BatchID        *uuid.UUID     `gorm:"column:batch_id;type:uuid;index" json:"batch_id"`
	ReminderCount  int            `gorm:"column:reminder_count;not null;default:0" json:"reminder_count"`
	LastReminderAt *time.Time     `gorm:"column:last_reminder_at" json:"last_reminder_at"`
	CreatedBy      string         `gorm:"column:created_by;not null" json:"created_by"`
	AcceptedBy     *string        `gorm:"column:accepted_by" json:"accepted_by"`
	AcceptedAt     *time.Time     `gorm:"column:accepted_at" json:"accepted_at"`
	CancelledAt    *time.Time     `gorm:"column:cancelled_at" json:"cancelled_at"`
	ExpiresAt      time.Time      `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Invitation) TableName() string {
	return "Invitations"
}

func (i *Invitation) BeforeCreate(tx *gorm.DB) error {
	if i.InviteID == uuid.Nil {
		i.InviteID = uuid.New()
	}
	return nil
}

// Terminal reports whether the stored status is accepted or cancelled.
func (i *Invitation) Terminal() bool {
	return i.Status == InviteStatusAccepted || i.Status == InviteStatusCancelled
}

// Active reports whether the invitation can still be redeemed at now:
// non-terminal and not past its expiry.
func (i *Invitation) Active(now time.Time) bool {
	return !i.Terminal() && now.Before(i.ExpiresAt)
}

// EffectiveStatus returns the stored status, or "expired" when a
// non-terminal invitation is past its expiry.
func (i *Invitation) EffectiveStatus(now time.Time) string {
	if !i.Terminal() && !now.Before(i.ExpiresAt) {
		return InviteStatusExpired
	}
	return i.Status
}
