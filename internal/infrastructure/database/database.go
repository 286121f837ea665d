package database

import (
	"strings"

	"stratix-backend/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open opens a GORM DB from DSN (Supabase/Postgres pooler URL).
// PreferSimpleProtocol disables prepared statement caching to avoid 42P05
// ("prepared statement already exists") when using connection poolers (e.g. PgBouncer, Supabase, Render).
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
}

// AutoMigrate runs migrations for all engine models plus the partial unique
// index that enforces the one-active-invitation-per-recipient rule at the
// store layer. The index only covers non-terminal statuses, so concurrent
// creates for the same recipient cannot both succeed.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Org{},
		&domain.Area{},
		&domain.User{},
		&domain.Invitation{},
		&domain.Batch{},
		&domain.BatchRecipient{},
		&domain.ActivityEvent{},
	); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS "uniq_invitations_active_recipient" ` +
			`ON "Invitations" (org_id, email) WHERE status IN ('pending','sent') AND deleted_at IS NULL`,
	).Error
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
// Matched by message so it covers both the Postgres driver and the sqlite
// driver used in tests.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
