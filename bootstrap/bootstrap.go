package bootstrap

import (
	"stratix-backend/internal/config"
	"stratix-backend/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
)

// New creates the Fiber app for Vercel serverless (api handler imports this
// package, not internal). The background scheduler is not started; serverless
// invocations only serve requests.
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app, _, _, _, err := router.CreateApp(cfg)
	return app, err
}
