package router

import (
	"net/http"

	actsvc "stratix-backend/internal/application/activity"
	authsvc "stratix-backend/internal/application/auth"
	batchsvc "stratix-backend/internal/application/batches"
	emailsvc "stratix-backend/internal/application/emails"
	invsvc "stratix-backend/internal/application/invitations"
	schedsvc "stratix-backend/internal/application/scheduler"
	"stratix-backend/internal/application/token"
	"stratix-backend/internal/config"
	"stratix-backend/internal/constants"
	"stratix-backend/internal/infrastructure/database"
	acthandler "stratix-backend/internal/interfaces/handlers/activity"
	authhandler "stratix-backend/internal/interfaces/handlers/auth"
	batchhandler "stratix-backend/internal/interfaces/handlers/batches"
	healthhandler "stratix-backend/internal/interfaces/handlers/health"
	invhandler "stratix-backend/internal/interfaces/handlers/invitations"
	"stratix-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// CreateApp builds the Fiber app, wires every service and handler, and
// returns the app plus the background scheduler (nil when no DB is
// configured). The caller decides when to Start/Stop the scheduler.
func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, *schedsvc.Scheduler, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))

	sessionHandler, redisClient, err := middleware.Session(middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rdb := redisClient
	app.Use(sessionHandler)
	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	hh := &healthhandler.Handlers{
		Rdb:            rdb,
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/", hh.Dashboard)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)
	app.Get("/health/reset", hh.Reset)

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		var errDB error
		db, errDB = database.Open(cfg.DatabaseURL)
		if errDB != nil {
			return nil, nil, nil, nil, errDB
		}
		// The schema, including the active-recipient unique index, must be
		// in place before any invitation write.
		if errDB = database.AutoMigrate(db); errDB != nil {
			return nil, nil, nil, nil, errDB
		}
		hh.DB = &gormDBPinger{db: db}
	}

	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	}

	var userFinder authsvc.UserFinder
	if db != nil {
		userFinder = &authsvc.GormUserFinder{DB: db}
	}
	ah := &authhandler.Handlers{
		UserFinder: userFinder,
		Rdb:        rdb,
		Config:     sessionCfg,
	}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/login", ah.Login)
	authGroup.Get("/me", ah.Me)
	authGroup.Delete("/logout", ah.Logout)

	var scheduler *schedsvc.Scheduler
	if db != nil {
		var mailer emailsvc.Sender
		if cfg.SendinblueAPIKey != "" {
			mailer = emailsvc.NewBrevoClient(cfg.SendinblueAPIKey, cfg.MailFrom)
		}

		emitter := &actsvc.Emitter{DB: db}
		is := &invsvc.Service{
			DB:            db,
			Tokens:        token.NewManager(cfg.InviteValidityDays, cfg.InviteMaxValidityDays),
			Events:        emitter,
			Mailer:        mailer,
			InviteBaseURL: cfg.InviteBaseURL,
			MailTimeout:   cfg.MailTimeout,
		}
		bs := &batchsvc.Service{
			DB:              db,
			Invitations:     is,
			Events:          emitter,
			Mailer:          mailer,
			InviteBaseURL:   cfg.InviteBaseURL,
			QuotaDefault:    cfg.BatchQuotaDefault,
			QuotaSuperadmin: cfg.BatchQuotaSuperadmin,
			Workers:         cfg.BatchWorkers,
			MailTimeout:     cfg.MailTimeout,
		}
		scheduler = &schedsvc.Scheduler{
			DB:          db,
			Batches:     bs,
			Invitations: is,
			Interval:    cfg.SchedulerInterval,
		}

		// Invitations
		ih := &invhandler.Handlers{Service: is}
		app.Post("/api/v1/invitations/public/accept-invite", ih.AcceptInvite)
		app.Post("/api/v1/invitations/public/check-token", ih.CheckToken)
		ig := app.Group("/api/v1/invitations", middleware.RequireAuth())
		ig.Get("/view-invites", middleware.AuthorizePermission(constants.ViewData), ih.ListInvitations)
		ig.Post("/resend-invite", middleware.AuthorizePermission(constants.InviteUser), ih.ResendInvite)
		ig.Patch("/revoke-invite", middleware.AuthorizePermission(constants.InviteUser), ih.RevokeInvite)

		// Batches
		bh := &batchhandler.Handlers{Service: bs}
		bg := app.Group("/api/v1/batches", middleware.RequireAuth())
		bg.Post("/submit-batch", middleware.AuthorizePermission(constants.InviteUser), bh.SubmitBatch)
		bg.Get("/view-batches", middleware.AuthorizePermission(constants.ViewData), bh.ListBatches)
		bg.Get("/view-batch/:batch_id", middleware.AuthorizePermission(constants.ViewData), bh.ViewBatch)
		bg.Patch("/cancel-batch", middleware.AuthorizePermission(constants.InviteUser), bh.CancelBatch)

		// Activity
		acth := &acthandler.Handlers{Emitter: emitter, Invitations: is}
		app.Post("/api/v1/activity/public/mail-webhook", acth.MailWebhook)
		ag := app.Group("/api/v1/activity", middleware.RequireAuth())
		ag.Get("/view-activity", middleware.AuthorizePermission(constants.ViewData), acth.ListActivity)
	}

	return app, db, rdb, scheduler, nil
}

func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
