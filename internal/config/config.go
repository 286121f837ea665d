package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	SessionSecret       string
	DatabaseURL         string
	RedisURL            string
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
	HealthAdminKey      string

	// Mail (Brevo / Sendinblue)
	SendinblueAPIKey string
	MailFrom         string
	InviteBaseURL    string // base URL for invite links (e.g. https://app.stratix.io)

	// Invitation engine knobs
	InviteValidityDays    int           // default expiry window in days
	InviteMaxValidityDays int           // administrative cap for caller-supplied windows
	BatchQuotaDefault     int           // per-request recipient quota for non-superadmin callers
	BatchQuotaSuperadmin  int           // per-request recipient quota for superadmin callers
	BatchWorkers          int           // bounded parallelism for batch fan-out
	MailTimeout           time.Duration // per-recipient delivery timeout
	SchedulerInterval     time.Duration // dispatch/sweep loop period
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	port := viper.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL_DEV")
	}

	return &Config{
		Env:                 env,
		Port:                port,
		SessionSecret:       viper.GetString("SESSION_SECRET"),
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),

		SendinblueAPIKey: viper.GetString("SENDINBLUE_API_KEY"),
		MailFrom:         viper.GetString("MAIL_FROM"),
		InviteBaseURL:    inviteBaseURL(viper.GetString("INVITE_BASE_URL")),

		InviteValidityDays:    intOr("INVITE_VALIDITY_DAYS", 7),
		InviteMaxValidityDays: intOr("INVITE_MAX_VALIDITY_DAYS", 90),
		BatchQuotaDefault:     intOr("BATCH_QUOTA_DEFAULT", 100),
		BatchQuotaSuperadmin:  intOr("BATCH_QUOTA_SUPERADMIN", 500),
		BatchWorkers:          intOr("BATCH_WORKERS", 8),
		MailTimeout:           msOr("MAIL_TIMEOUT_MS", 10*time.Second),
		SchedulerInterval:     msOr("SCHEDULER_INTERVAL_MS", 30*time.Second),
	}, nil
}

func inviteBaseURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "https://app.stratix.io"
	}
	return s
}

func intOr(key string, def int) int {
	if v := viper.GetInt(key); v > 0 {
		return v
	}
	return def
}

func msOr(key string, def time.Duration) time.Duration {
	if v := viper.GetInt(key); v > 0 {
		return time.Duration(v) * time.Millisecond
	}
	return def
}
