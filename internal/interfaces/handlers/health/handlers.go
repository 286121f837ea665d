package health

import (
	"context"
	"encoding/json"
	"time"

	healthsvc "stratix-backend/internal/application/health"
	"stratix-backend/internal/middleware"
	"stratix-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Handlers holds dependencies for health endpoints.
type Handlers struct {
	Rdb            *redis.Client
	DB             healthsvc.DBPinger
	HealthAdminKey string
}

// Dashboard GET / serves the HTML status page.
func (h *Handlers) Dashboard(c *fiber.Ctx) error {
	result := healthsvc.CollectHealth(c.Context(), h.Rdb, h.DB)
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(healthsvc.RenderDashboardHTML(result))
}

// JSON GET /health/json — full health snapshot.
func (h *Handlers) JSON(c *fiber.Ctx) error {
	result := healthsvc.CollectHealth(c.Context(), h.Rdb, h.DB)
	return c.JSON(result)
}

// Errors GET /health/errors — last 50 recorded server errors, newest first.
func (h *Handlers) Errors(c *fiber.Ctx) error {
	entries := []json.RawMessage{}
	if h.Rdb != nil {
		raw, err := h.Rdb.LRange(context.Background(), middleware.KeyErrorLog, 0, 49).Result()
		if err == nil {
			for _, r := range raw {
				entries = append(entries, json.RawMessage(r))
			}
		}
	}
	return c.JSON(entries)
}

// Reset GET /health/reset — clears traffic counters. Requires query key=HEALTH_ADMIN_KEY.
func (h *Handlers) Reset(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" || key != h.HealthAdminKey {
		return response.Error(c, "Unauthorized", fiber.StatusForbidden, nil)
	}
	ctx := context.Background()
	if h.Rdb != nil {
		h.Rdb.Del(ctx,
			middleware.KeyReqTotal, middleware.KeyReqErrors,
			middleware.KeyResTime, middleware.KeyResCount,
			middleware.KeyStartTime, middleware.KeyLastReq, middleware.KeyErrorLog,
		)
		h.Rdb.Set(ctx, middleware.KeyStartTime, time.Now().UnixMilli(), 0)
	}
	return response.Success(c, "Stats reset successfully", fiber.Map{}, nil)
}
