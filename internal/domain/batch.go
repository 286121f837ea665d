package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Batch statuses. The pending -> processing claim is the at-most-once
// gate; pending -> cancelled wins any race with dispatch.
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusCancelled  = "cancelled"
)

// Per-recipient outcomes. Rows start queued and resolve as processing
// proceeds.
const (
	RecipientOutcomeQueued           = "queued"
	RecipientOutcomeSent             = "sent"
	RecipientOutcomeFailed           = "failed"
	RecipientOutcomeSkippedDuplicate = "skipped: duplicate"
)

// Batch is one bulk or scheduled invitation submission. The shared
// parameters are stored on the row so a scheduled dispatch replays the
// same pipeline an immediate submission runs. ScheduledFor nil means the
// batch is processed at submit time.
type Batch struct {
	BatchID      uuid.UUID      `gorm:"column:batch_id;type:uuid;primaryKey" json:"batch_id"`
	OrgID        uuid.UUID      `gorm:"column:org_id;type:uuid;not null;index" json:"org_id"`
	Name         string         `gorm:"column:name;not null" json:"name"`
	CreatedBy    string         `gorm:"column:created_by;not null" json:"created_by"`
	Role         string         `gorm:"column:role;not null" json:"role"`
	AreaID       *uuid.UUID     `gorm:"column:area_id;type:uuid" json:"area_id"`
	Message      *string        `gorm:"column:message;type:varchar(500)" json:"message"`
	ValidityDays int            `gorm:"column:validity_days;not null;default:0" json:"validity_days"`
	ScheduledFor *time.Time     `gorm:"column:scheduled_for;index" json:"scheduled_for"`
	Status       string         `gorm:"column:status;not null;default:'pending'" json:"status"`
	TotalCount   int            `gorm:"column:total_count;not null;default:0" json:"total_count"`
	SentCount    int            `gorm:"column:sent_count;not null;default:0" json:"sent_count"`
	FailedCount  int            `gorm:"column:failed_count;not null;default:0" json:"failed_count"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Batch) TableName() string {
	return "Batches"
}

func (b *Batch) BeforeCreate(tx *gorm.DB) error {
	if b.BatchID == uuid.Nil {
		b.BatchID = uuid.New()
	}
	return nil
}

// BatchRecipient is one recipient of a batch, ordered by Position as
// submitted, resolving from queued to a final outcome.
type BatchRecipient struct {
	RecipientID uuid.UUID  `gorm:"column:recipient_id;type:uuid;primaryKey" json:"recipient_id"`
	BatchID     uuid.UUID  `gorm:"column:batch_id;type:uuid;not null;index" json:"batch_id"`
	Position    int        `gorm:"column:position;not null" json:"position"`
	Email       string     `gorm:"column:email;not null" json:"email"`
	Message     *string    `gorm:"column:message;type:varchar(500)" json:"message"`
	Outcome     string     `gorm:"column:outcome;not null;default:'queued'" json:"outcome"`
	Error       *string    `gorm:"column:error" json:"error"`
	InviteID    *uuid.UUID `gorm:"column:invite_id;type:uuid" json:"invite_id"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (BatchRecipient) TableName() string {
	return "BatchRecipients"
}

func (r *BatchRecipient) BeforeCreate(tx *gorm.DB) error {
	if r.RecipientID == uuid.Nil {
		r.RecipientID = uuid.New()
	}
	return nil
}
