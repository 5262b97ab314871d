package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/scheduler/internal/platform/scheduling"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema         string        `mapstructure:"DB_SCHEMA"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	SettingsCacheTTL time.Duration `mapstructure:"SETTINGS_CACHE_TTL"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL      string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience     string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// Clinic calendar. Slot math runs in ClinicTimezone; the DEFAULT_*
	// values apply to practitioners with no saved settings.
	ClinicTimezone       string   `mapstructure:"CLINIC_TIMEZONE"`
	DefaultStartTime     string   `mapstructure:"DEFAULT_START_TIME"`
	DefaultEndTime       string   `mapstructure:"DEFAULT_END_TIME"`
	DefaultSlotInterval  int      `mapstructure:"DEFAULT_SLOT_INTERVAL"`
	DefaultBufferMinutes int      `mapstructure:"DEFAULT_BUFFER_MINUTES"`
	DefaultWorkingDays   []string `mapstructure:"DEFAULT_WORKING_DAYS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	def := scheduling.DefaultCalendarSettings()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("SETTINGS_CACHE_TTL", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("DEFAULT_START_TIME", def.StartTime)
	v.SetDefault("DEFAULT_END_TIME", def.EndTime)
	v.SetDefault("DEFAULT_SLOT_INTERVAL", def.SlotIntervalMinutes)
	v.SetDefault("DEFAULT_BUFFER_MINUTES", def.BufferMinutes)
	v.SetDefault("DEFAULT_WORKING_DAYS", "Monday,Tuesday,Wednesday,Thursday,Friday")

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
		"REDIS_URL", "SETTINGS_CACHE_TTL",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
		"CLINIC_TIMEZONE", "DEFAULT_START_TIME", "DEFAULT_END_TIME",
		"DEFAULT_SLOT_INTERVAL", "DEFAULT_BUFFER_MINUTES", "DEFAULT_WORKING_DAYS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.DefaultWorkingDays = splitList(cfg.DefaultWorkingDays, v.GetString("DEFAULT_WORKING_DAYS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ENV=development, DevAuthMiddleware is active and unauthenticated requests get admin access.")
	}

	return cfg, nil
}

// splitList flattens list values that arrive either as one comma-separated
// string or as a pre-split slice, trimming blanks.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 0 && raw != "" {
		parsed = []string{raw}
	}
	var out []string
	for _, entry := range parsed {
		for _, item := range strings.Split(entry, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the clinic time zone, falling back to UTC when the name is
// unknown. Validate reports unknown names before the server starts.
func (c *Config) Location() *time.Location {
	if c.ClinicTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultCalendar is the calendar used for practitioners without saved
// settings. Invalid DEFAULT_* values fall back to the built-in default.
func (c *Config) DefaultCalendar() scheduling.CalendarSettings {
	days := make([]any, 0, len(c.DefaultWorkingDays))
	for _, d := range c.DefaultWorkingDays {
		days = append(days, d)
	}
	return scheduling.NewResolver(scheduling.DefaultCalendarSettings()).Resolve(&scheduling.RawSettings{
		StartTime:           c.DefaultStartTime,
		EndTime:             c.DefaultEndTime,
		SlotIntervalMinutes: c.DefaultSlotInterval,
		BufferMinutes:       c.DefaultBufferMinutes,
		WorkingDays:         days,
	})
}

// Validate checks that the configuration is safe to run. Outside development
// either an issuer (JWKS or OIDC discovery) or a signing key must be set so
// that bearer tokens are actually verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY alone is not accepted in production, configure AUTH_ISSUER")
	}
	if c.ClinicTimezone != "" {
		if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
			return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
		}
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SettingsCacheTTL < 0 {
		return fmt.Errorf("SETTINGS_CACHE_TTL must not be negative")
	}

	start, err := scheduling.ParseTimeOfDay(c.DefaultStartTime)
	if err != nil {
		return fmt.Errorf("DEFAULT_START_TIME: %w", err)
	}
	end, err := scheduling.ParseTimeOfDay(c.DefaultEndTime)
	if err != nil {
		return fmt.Errorf("DEFAULT_END_TIME: %w", err)
	}
	if end <= start {
		return fmt.Errorf("DEFAULT_END_TIME must be after DEFAULT_START_TIME")
	}
	if c.DefaultSlotInterval <= 0 {
		return fmt.Errorf("DEFAULT_SLOT_INTERVAL must be positive")
	}
	return nil
}
