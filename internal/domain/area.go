package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Area is an organizational subdivision. Invitations may be scoped to one,
// and the area owner may manage those invitations.
type Area struct {
	AreaID      uuid.UUID      `gorm:"column:area_id;type:uuid;primaryKey" json:"area_id"`
	OrgID       uuid.UUID      `gorm:"column:org_id;type:uuid;not null;index" json:"org_id"`
	Name        string         `gorm:"column:name;not null" json:"name"`
	OwnerUserID *uuid.UUID     `gorm:"column:owner_user_id;type:uuid" json:"owner_user_id"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Area) TableName() string {
	return "Areas"
}

func (a *Area) BeforeCreate(tx *gorm.DB) error {
	if a.AreaID == uuid.Nil {
		a.AreaID = uuid.New()
	}
	return nil
}
