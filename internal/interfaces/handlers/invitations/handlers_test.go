package invitations

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"stratix-backend/internal/application/activity"
	invsvc "stratix-backend/internal/application/invitations"
	"stratix-backend/internal/application/token"
	"stratix-backend/internal/constants"
	"stratix-backend/internal/domain"
	"stratix-backend/internal/infrastructure/database"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupHandlers(t *testing.T) (*Handlers, *invsvc.Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	svc := &invsvc.Service{
		DB:     db,
		Tokens: token.NewManager(7, 90),
		Events: &activity.Emitter{DB: db},
	}
	return &Handlers{Service: svc}, svc, db
}

func sessionApp(userID, role string, orgID uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", map[string]interface{}{
			"user_id": userID, "role": role, "email": "actor@test.com",
			"fullname": "Actor", "org_id": orgID.String(),
		})
		return c.Next()
	})
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	var parsed map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	return resp.StatusCode, parsed
}

func TestCheckToken_MissingToken(t *testing.T) {
	h, _, _ := setupHandlers(t)
	app := fiber.New()
	app.Post("/check-token", h.CheckToken)

	code, _ := doJSON(t, app, "POST", "/check-token", map[string]string{})
	assert.Equal(t, 400, code)
}

func TestCheckToken_UnknownToken(t *testing.T) {
	h, _, _ := setupHandlers(t)
	app := fiber.New()
	app.Post("/check-token", h.CheckToken)

	code, _ := doJSON(t, app, "POST", "/check-token", map[string]string{"token": "nope"})
	assert.Equal(t, 404, code)
}

func TestCheckToken_Valid(t *testing.T) {
	h, svc, db := setupHandlers(t)
	orgID := uuid.New()
	require.NoError(t, db.Create(&domain.Org{OrgID: orgID, OrgName: "Stratix Demo"}).Error)
	inv, err := svc.Create(context.Background(), invsvc.CreateInput{
		OrgID: orgID, Email: "peek@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)

	app := fiber.New()
	app.Post("/check-token", h.CheckToken)
	code, parsed := doJSON(t, app, "POST", "/check-token", map[string]string{"token": inv.InviteToken})
	require.Equal(t, 200, code)

	data := parsed["data"].(map[string]interface{})
	assert.Equal(t, "peek@test.com", data["email"])
	assert.Equal(t, "Stratix Demo", data["org_name"])
	assert.Equal(t, true, data["valid"])
}

func TestAcceptInvite_Anonymous(t *testing.T) {
	h, svc, _ := setupHandlers(t)
	inv, err := svc.Create(context.Background(), invsvc.CreateInput{
		OrgID: uuid.New(), Email: "join@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)

	app := fiber.New()
	app.Post("/accept-invite", h.AcceptInvite)
	code, parsed := doJSON(t, app, "POST", "/accept-invite", map[string]string{"token": inv.InviteToken})
	require.Equal(t, 200, code)

	data := parsed["data"].(map[string]interface{})
	assert.Equal(t, domain.InviteStatusAccepted, data["status"])
	assert.Equal(t, "join@test.com", data["accepted_by"])
}

func TestAcceptInvite_AuthenticatedActorRecorded(t *testing.T) {
	h, svc, _ := setupHandlers(t)
	orgID := uuid.New()
	inv, err := svc.Create(context.Background(), invsvc.CreateInput{
		OrgID: orgID, Email: "member@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)

	app := sessionApp("user-42", constants.Viewer, orgID)
	app.Post("/accept-invite", h.AcceptInvite)
	code, parsed := doJSON(t, app, "POST", "/accept-invite", map[string]string{"token": inv.InviteToken})
	require.Equal(t, 200, code)

	data := parsed["data"].(map[string]interface{})
	assert.Equal(t, "user-42", data["accepted_by"])
}

func TestAcceptInvite_CancelledTokenIs404(t *testing.T) {
	h, svc, db := setupHandlers(t)
	inv, err := svc.Create(context.Background(), invsvc.CreateInput{
		OrgID: uuid.New(), Email: "dead@test.com", Role: constants.Viewer, CreatedBy: "u",
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(&domain.Invitation{}).
		Where("invite_id = ?", inv.InviteID).
		Update("status", domain.InviteStatusCancelled).Error)

	app := fiber.New()
	app.Post("/accept-invite", h.AcceptInvite)
	code, _ := doJSON(t, app, "POST", "/accept-invite", map[string]string{"token": inv.InviteToken})
	assert.Equal(t, 404, code)
}

func TestResendInvite_RotatesAndReturns200(t *testing.T) {
	h, svc, _ := setupHandlers(t)
	orgID := uuid.New()
	inv, err := svc.Create(context.Background(), invsvc.CreateInput{
		OrgID: orgID, Email: "again@test.com", Role: constants.Viewer, CreatedBy: "admin-1",
	})
	require.NoError(t, err)

	app := sessionApp("admin-1", constants.Admin, orgID)
	app.Post("/resend-invite", h.ResendInvite)
	code, parsed := doJSON(t, app, "POST", "/resend-invite", map[string]string{"invite_id": inv.InviteID.String()})
	require.Equal(t, 200, code)

	data := parsed["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["reminder_count"])
}

func TestResendInvite_AcceptedConflicts(t *testing.T) {
	h, svc, _ := setupHandlers(t)
	orgID := uuid.New()
	inv, err := svc.Create(context.Background(), invsvc.CreateInput{
		OrgID: orgID, Email: "done@test.com", Role: constants.Viewer, CreatedBy: "admin-1",
	})
	require.NoError(t, err)
	_, err = svc.Accept(context.Background(), inv.InviteToken, "done@test.com")
	require.NoError(t, err)

	app := sessionApp("admin-1", constants.Admin, orgID)
	app.Post("/resend-invite", h.ResendInvite)
	code, _ := doJSON(t, app, "POST", "/resend-invite", map[string]string{"invite_id": inv.InviteID.String()})
	assert.Equal(t, 409, code)
}

func TestRevokeInvite(t *testing.T) {
	h, svc, _ := setupHandlers(t)
	orgID := uuid.New()
	inv, err := svc.Create(context.Background(), invsvc.CreateInput{
		OrgID: orgID, Email: "revoke@test.com", Role: constants.Viewer, CreatedBy: "admin-1",
	})
	require.NoError(t, err)

	app := sessionApp("admin-1", constants.Admin, orgID)
	app.Patch("/revoke-invite", h.RevokeInvite)
	code, parsed := doJSON(t, app, "PATCH", "/revoke-invite", map[string]string{"invite_id": inv.InviteID.String()})
	require.Equal(t, 200, code)

	data := parsed["data"].(map[string]interface{})
	assert.Equal(t, domain.InviteStatusCancelled, data["status"])
}

func TestRevokeInvite_OtherOrgForbidden(t *testing.T) {
	h, svc, _ := setupHandlers(t)
	inv, err := svc.Create(context.Background(), invsvc.CreateInput{
		OrgID: uuid.New(), Email: "foreign@test.com", Role: constants.Viewer, CreatedBy: "admin-1",
	})
	require.NoError(t, err)

	app := sessionApp("admin-2", constants.Admin, uuid.New())
	app.Patch("/revoke-invite", h.RevokeInvite)
	code, _ := doJSON(t, app, "PATCH", "/revoke-invite", map[string]string{"invite_id": inv.InviteID.String()})
	assert.Equal(t, 403, code)
}

func TestListInvitations_PaginatedEnvelope(t *testing.T) {
	h, svc, _ := setupHandlers(t)
	orgID := uuid.New()
	for _, email := range []string{"l1@test.com", "l2@test.com"} {
		_, err := svc.Create(context.Background(), invsvc.CreateInput{
			OrgID: orgID, Email: email, Role: constants.Viewer, CreatedBy: "admin-1",
		})
		require.NoError(t, err)
	}

	app := sessionApp("admin-1", constants.Admin, orgID)
	app.Get("/view-invites", h.ListInvitations)
	req := httptest.NewRequest("GET", "/view-invites?page=1&page_size=1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Len(t, parsed["data"].([]interface{}), 1)
	meta := parsed["metadata"].(map[string]interface{})
	assert.EqualValues(t, 2, meta["total"])
	assert.EqualValues(t, 2, meta["total_pages"])
}

func TestListInvitations_PageSizeClamped(t *testing.T) {
	h, svc, _ := setupHandlers(t)
	orgID := uuid.New()
	for _, email := range []string{"c1@test.com", "c2@test.com", "c3@test.com"} {
		_, err := svc.Create(context.Background(), invsvc.CreateInput{
			OrgID: orgID, Email: email, Role: constants.Viewer, CreatedBy: "admin-1",
		})
		require.NoError(t, err)
	}

	app := sessionApp("admin-1", constants.Admin, orgID)
	app.Get("/view-invites", h.ListInvitations)

	// page_size=0 must not blow up and falls back to the default.
	req := httptest.NewRequest("GET", "/view-invites?page_size=0", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	meta := parsed["metadata"].(map[string]interface{})
	assert.EqualValues(t, 20, meta["page_size"])
	assert.EqualValues(t, 1, meta["total_pages"])
	assert.Len(t, parsed["data"].([]interface{}), 3)

	// An over-limit page_size is clamped, and the metadata reports the
	// size the query actually used.
	req = httptest.NewRequest("GET", "/view-invites?page_size=200&page=-1", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	parsed = map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	meta = parsed["metadata"].(map[string]interface{})
	assert.EqualValues(t, 20, meta["page_size"])
	assert.EqualValues(t, 1, meta["page"])
}

func TestListInvitations_NoOrgForbidden(t *testing.T) {
	h, _, _ := setupHandlers(t)
	app := fiber.New()
	app.Get("/view-invites", h.ListInvitations)

	req := httptest.NewRequest("GET", "/view-invites", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)
}
