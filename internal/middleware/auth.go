package middleware

import (
	"stratix-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const userLocal = "user"

// Actor is the authenticated caller identity threaded into every engine
// call: id, role and optional org/area scope. The engine trusts it as
// already-authenticated.
type Actor struct {
	UserID   string
	Fullname string
	Email    string
	Role     string
	OrgID    string
	AreaID   string
}

// RequireAuth ensures a user is in the session. Returns 401 with the standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals(userLocal)
		if user == nil {
			return response.Unauthorized(c, "Unauthorized")
		}
		c.Locals("auth", user)
		return c.Next()
	}
}

// GetUser returns the raw session user from Locals (nil if not logged in).
func GetUser(c *fiber.Ctx) interface{} {
	return c.Locals(userLocal)
}

// GetActor returns the typed caller identity from the session, or nil when
// no user is logged in or the session shape is unusable.
func GetActor(c *fiber.Ctx) *Actor {
	m, ok := GetUser(c).(map[string]interface{})
	if !ok {
		return nil
	}
	userID, _ := m["user_id"].(string)
	if userID == "" {
		return nil
	}
	a := &Actor{UserID: userID}
	a.Fullname, _ = m["fullname"].(string)
	a.Email, _ = m["email"].(string)
	a.Role, _ = m["role"].(string)
	if o, ok := m["org_id"].(string); ok {
		a.OrgID = o
	}
	if ar, ok := m["area_id"].(string); ok {
		a.AreaID = ar
	}
	return a
}
