package invitations

import (
	"context"
	"testing"
	"time"

	"stratix-backend/internal/application/activity"
	policies "stratix-backend/internal/application/policies/invitations"
	"stratix-backend/internal/application/token"
	"stratix-backend/internal/constants"
	"stratix-backend/internal/domain"
	"stratix-backend/internal/infrastructure/database"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	svc := &Service{
		DB:     db,
		Tokens: token.NewManager(7, 90),
		Events: &activity.Emitter{DB: db},
	}
	return svc, db
}

func adminCaller(orgID uuid.UUID) policies.Caller {
	return policies.Caller{UserID: uuid.New().String(), Role: constants.Admin, OrgID: orgID}
}

func restoreClock(t *testing.T) {
	t.Cleanup(func() { now = time.Now })
}

func TestCreate_InvalidEmail(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "not-an-email", Role: constants.Viewer, CreatedBy: "u",
	})
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestCreate_NormalizesEmail(t *testing.T) {
	svc, _ := setupService(t)
	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "  Alice@Example.COM ", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", inv.Email)
	assert.Equal(t, domain.InviteStatusPending, inv.Status)
	assert.Len(t, inv.InviteToken, 64)
}

func TestCreate_MessageTooLong(t *testing.T) {
	svc, _ := setupService(t)
	msg := string(make([]byte, 501))
	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "a@b.co", Role: constants.Viewer, CustomMessage: &msg, CreatedBy: "u",
	})
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestCreate_InvalidWindow(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "a@b.co", Role: constants.Viewer, ValidityDays: 120, CreatedBy: "u",
	})
	assert.ErrorIs(t, err, token.ErrInvalidExpirationWindow)
}

func TestCreate_DuplicateActive(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "dup@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "DUP@test.com", Role: constants.Manager, CreatedBy: "u",
	})
	assert.ErrorIs(t, err, ErrDuplicateActiveInvitation)
}

func TestCreate_SameEmailDifferentOrg(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "shared@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "shared@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	assert.NoError(t, err)
}

func TestCreate_AfterExpiryAllowsNewInvitation(t *testing.T) {
	svc, db := setupService(t)
	restoreClock(t)
	orgID := uuid.New()

	base := time.Now()
	now = func() time.Time { return base }
	first, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "again@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)

	// Past the first invitation's window the recipient is invitable again;
	// the stale row is swept to cancelled on the way.
	now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	second, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "again@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.InviteID, second.InviteID)

	var swept domain.Invitation
	require.NoError(t, db.Where("invite_id = ?", first.InviteID).First(&swept).Error)
	assert.Equal(t, domain.InviteStatusCancelled, swept.Status)
}

func TestCreate_AfterCancelAllowsNewInvitation(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)

	first, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "redo@test.com", Role: constants.Viewer, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), first.InviteID, caller)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "redo@test.com", Role: constants.Viewer, CreatedBy: caller.UserID,
	})
	assert.NoError(t, err)
}

func TestMarkSent_Transitions(t *testing.T) {
	svc, _ := setupService(t)
	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "send@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)

	sent, err := svc.MarkSent(context.Background(), inv.InviteID)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteStatusSent, sent.Status)

	// Idempotent from sent.
	again, err := svc.MarkSent(context.Background(), inv.InviteID)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteStatusSent, again.Status)
}

func TestMarkSent_FromTerminal(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)
	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "t@test.com", Role: constants.Viewer, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), inv.InviteID, caller)
	require.NoError(t, err)

	_, err = svc.MarkSent(context.Background(), inv.InviteID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResend_RotatesToken(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "rot@test.com", Role: constants.Viewer, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)
	oldToken := inv.InviteToken

	resent, err := svc.Resend(context.Background(), inv.InviteID, caller)
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, resent.InviteToken)
	assert.Equal(t, 1, resent.ReminderCount)
	require.NotNil(t, resent.LastReminderAt)

	// The old token is dead the instant the rotation lands.
	_, err = svc.Accept(context.Background(), oldToken, "")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	acc, err := svc.Accept(context.Background(), resent.InviteToken, "joiner@test.com")
	require.NoError(t, err)
	assert.Equal(t, domain.InviteStatusAccepted, acc.Status)
}

func TestResend_ExtendsExpiry(t *testing.T) {
	svc, _ := setupService(t)
	restoreClock(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)

	base := time.Now()
	now = func() time.Time { return base }
	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "ext@test.com", Role: constants.Viewer, ValidityDays: 1, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)

	now = func() time.Time { return base.Add(12 * time.Hour) }
	resent, err := svc.Resend(context.Background(), inv.InviteID, caller)
	require.NoError(t, err)
	assert.Equal(t, base.Add(12*time.Hour).Add(7*24*time.Hour).Unix(), resent.ExpiresAt.Unix())
}

func TestResend_TerminalRejected(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "done@test.com", Role: constants.Viewer, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), inv.InviteToken, "x@test.com")
	require.NoError(t, err)

	_, err = svc.Resend(context.Background(), inv.InviteID, caller)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResend_ForbiddenForOutsider(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "priv@test.com", Role: constants.Viewer, CreatedBy: "creator",
	})
	require.NoError(t, err)

	outsider := policies.Caller{UserID: "other", Role: constants.Viewer, OrgID: orgID}
	_, err = svc.Resend(context.Background(), inv.InviteID, outsider)
	assert.ErrorIs(t, err, policies.ErrForbidden)
}

func TestCancel_InvalidatesTokenImmediately(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "gone@test.com", Role: constants.Viewer, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), inv.InviteID, caller)
	require.NoError(t, err)
	assert.Equal(t, domain.InviteStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = svc.Accept(context.Background(), inv.InviteToken, "")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// Cancelling again is a terminal-state rejection, not a retry.
	_, err = svc.Cancel(context.Background(), inv.InviteID, caller)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAccept_LifecycleScenario(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "lifecycle@test.com", Role: constants.Manager, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)
	tok1 := inv.InviteToken

	_, err = svc.MarkSent(context.Background(), inv.InviteID)
	require.NoError(t, err)

	resent, err := svc.Resend(context.Background(), inv.InviteID, caller)
	require.NoError(t, err)
	tok2 := resent.InviteToken
	require.NotEqual(t, tok1, tok2)

	_, err = svc.Accept(context.Background(), tok1, "late@test.com")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	first, err := svc.Accept(context.Background(), tok2, "joiner@test.com")
	require.NoError(t, err)
	assert.Equal(t, domain.InviteStatusAccepted, first.Status)
	require.NotNil(t, first.AcceptedBy)
	assert.Equal(t, "joiner@test.com", *first.AcceptedBy)
	require.NotNil(t, first.AcceptedAt)

	// A duplicate click returns the original acceptance unchanged.
	second, err := svc.Accept(context.Background(), tok2, "someone-else@test.com")
	require.NoError(t, err)
	assert.Equal(t, first.AcceptedAt.Unix(), second.AcceptedAt.Unix())
	require.NotNil(t, second.AcceptedBy)
	assert.Equal(t, "joiner@test.com", *second.AcceptedBy)
}

func TestAccept_AnonymousRecordedUnderInvitedAddress(t *testing.T) {
	svc, _ := setupService(t)
	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "anon@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)

	acc, err := svc.Accept(context.Background(), inv.InviteToken, "")
	require.NoError(t, err)
	require.NotNil(t, acc.AcceptedBy)
	assert.Equal(t, "anon@test.com", *acc.AcceptedBy)
}

func TestAccept_ExpiredToken(t *testing.T) {
	svc, _ := setupService(t)
	restoreClock(t)

	base := time.Now()
	now = func() time.Time { return base }
	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: uuid.New(), Email: "late@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)

	// One second inside the window still redeems; one past it never does.
	now = func() time.Time { return base.Add(7*24*time.Hour - time.Second) }
	_, err = svc.CheckToken(context.Background(), inv.InviteToken)
	require.NoError(t, err)

	now = func() time.Time { return base.Add(7*24*time.Hour + time.Second) }
	_, err = svc.Accept(context.Background(), inv.InviteToken, "")
	assert.ErrorIs(t, err, ErrInvitationExpired)
}

func TestCheckToken(t *testing.T) {
	svc, db := setupService(t)
	orgID := uuid.New()
	require.NoError(t, db.Create(&domain.Org{OrgID: orgID, OrgName: "Stratix Demo"}).Error)

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "peek@test.com", Role: constants.Manager, CreatedBy: "u",
	})
	require.NoError(t, err)

	res, err := svc.CheckToken(context.Background(), inv.InviteToken)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "peek@test.com", res.Email)
	assert.Equal(t, constants.Manager, res.Role)
	assert.Equal(t, "Stratix Demo", res.OrgName)

	_, err = svc.CheckToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = svc.CheckToken(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestList_DerivedExpiredStatus(t *testing.T) {
	svc, _ := setupService(t)
	restoreClock(t)
	orgID := uuid.New()

	base := time.Now()
	now = func() time.Time { return base }
	short, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "short@test.com", Role: constants.Viewer, ValidityDays: 1, CreatedBy: "u",
	})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "long@test.com", Role: constants.Viewer, ValidityDays: 30, CreatedBy: "u",
	})
	require.NoError(t, err)

	now = func() time.Time { return base.Add(48 * time.Hour) }

	expired, total, err := svc.List(context.Background(), ListInput{OrgID: orgID, Status: domain.InviteStatusExpired})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, expired, 1)
	assert.Equal(t, short.InviteID, expired[0].InviteID)
	assert.Equal(t, domain.InviteStatusExpired, expired[0].Status)

	pending, total, err := svc.List(context.Background(), ListInput{OrgID: orgID, Status: domain.InviteStatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, pending, 1)
	assert.Equal(t, "long@test.com", pending[0].Email)
}

func TestList_FiltersAndPagination(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()
	areaID := uuid.New()

	for i, email := range []string{"p1@test.com", "p2@test.com", "p3@test.com"} {
		in := CreateInput{OrgID: orgID, Email: email, Role: constants.Viewer, CreatedBy: "u"}
		if i == 0 {
			in.Role = constants.Manager
			in.AreaID = &areaID
		}
		_, err := svc.Create(context.Background(), in)
		require.NoError(t, err)
	}

	byRole, total, err := svc.List(context.Background(), ListInput{OrgID: orgID, Role: constants.Manager})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, byRole, 1)
	assert.Equal(t, "p1@test.com", byRole[0].Email)

	byArea, _, err := svc.List(context.Background(), ListInput{OrgID: orgID, AreaID: &areaID})
	require.NoError(t, err)
	require.Len(t, byArea, 1)

	bySearch, _, err := svc.List(context.Background(), ListInput{OrgID: orgID, Search: "p2"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "p2@test.com", bySearch[0].Email)

	page, total, err := svc.List(context.Background(), ListInput{OrgID: orgID, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, page, 1)

	other, total, err := svc.List(context.Background(), ListInput{OrgID: uuid.New()})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	assert.Empty(t, other)
}

func TestSweepExpired(t *testing.T) {
	svc, db := setupService(t)
	restoreClock(t)
	orgID := uuid.New()

	base := time.Now()
	now = func() time.Time { return base }
	stale, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "stale@test.com", Role: constants.Viewer, ValidityDays: 1, CreatedBy: "u",
	})
	require.NoError(t, err)
	fresh, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "fresh@test.com", Role: constants.Viewer, ValidityDays: 30, CreatedBy: "u",
	})
	require.NoError(t, err)

	now = func() time.Time { return base.Add(3 * 24 * time.Hour) }
	swept, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	var row domain.Invitation
	require.NoError(t, db.Where("invite_id = ?", stale.InviteID).First(&row).Error)
	assert.Equal(t, domain.InviteStatusCancelled, row.Status)
	// Reset so First does not carry the previous primary key as a condition.
	row = domain.Invitation{}
	require.NoError(t, db.Where("invite_id = ?", fresh.InviteID).First(&row).Error)
	assert.Equal(t, domain.InviteStatusPending, row.Status)

	var ev domain.ActivityEvent
	require.NoError(t, db.Where("event_type = ?", domain.EventExpired).First(&ev).Error)
}

func TestTerminalStatesNeverLeave(t *testing.T) {
	svc, _ := setupService(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)

	accepted, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "locked@test.com", Role: constants.Viewer, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), accepted.InviteToken, "x@test.com")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), accepted.InviteID, caller)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Resend(context.Background(), accepted.InviteID, caller)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.MarkSent(context.Background(), accepted.InviteID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestActivityEmittedAcrossLifecycle(t *testing.T) {
	svc, db := setupService(t)
	orgID := uuid.New()
	caller := adminCaller(orgID)

	inv, err := svc.Create(context.Background(), CreateInput{
		OrgID: orgID, Email: "trail@test.com", Role: constants.Viewer, CreatedBy: caller.UserID,
	})
	require.NoError(t, err)
	_, err = svc.MarkSent(context.Background(), inv.InviteID)
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), inv.InviteToken, "trail@test.com")
	require.NoError(t, err)

	var types []string
	require.NoError(t, db.Model(&domain.ActivityEvent{}).
		Where("org_id = ?", orgID).Order("created_at ASC").
		Pluck("event_type", &types).Error)
	assert.Equal(t, []string{domain.EventInviteCreated, domain.EventInviteSent, domain.EventAccepted}, types)
}
