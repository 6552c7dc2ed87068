package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string   `mapstructure:"PORT"`
	Env                  string   `mapstructure:"ENV"`
	AuthMode             string   `mapstructure:"AUTH_MODE"`
	DatabaseURL          string   `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer           string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL          string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience         string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultFacility      string   `mapstructure:"DEFAULT_FACILITY"`
	CORSOrigins          []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int      `mapstructure:"RATE_LIMIT_BURST"`
	SweepCutoffHour      int      `mapstructure:"SWEEP_CUTOFF_HOUR"`
	SweepIntervalMinutes int      `mapstructure:"SWEEP_INTERVAL_MINUTES"`
	CallbackDeadlineHrs  int      `mapstructure:"CALLBACK_DEADLINE_HOURS"`
	OverrideReviewHours  int      `mapstructure:"OVERRIDE_REVIEW_HOURS"`
	DoseWindowDays       int      `mapstructure:"DOSE_WINDOW_DAYS"`
	DEAClinicID          string   `mapstructure:"DEA_CLINIC_ID"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_FACILITY", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SWEEP_CUTOFF_HOUR", 11)
	v.SetDefault("SWEEP_INTERVAL_MINUTES", 60)
	v.SetDefault("CALLBACK_DEADLINE_HOURS", 2)
	v.SetDefault("OVERRIDE_REVIEW_HOURS", 24)
	v.SetDefault("DOSE_WINDOW_DAYS", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DEFAULT_FACILITY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("SWEEP_CUTOFF_HOUR")
	v.BindEnv("SWEEP_INTERVAL_MINUTES")
	v.BindEnv("CALLBACK_DEADLINE_HOURS")
	v.BindEnv("OVERRIDE_REVIEW_HOURS")
	v.BindEnv("DOSE_WINDOW_DAYS")
	v.BindEnv("DEA_CLINIC_ID")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - Otherwise       → "external" (Keycloak, Auth0, etc.)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run. In non-development
// modes AUTH_ISSUER must be set so that real JWT authentication is enforced.
// The sweep and window settings are range-checked because a bad cutoff hour
// silently disables the missed-dose sweep.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode == "external" && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.SweepCutoffHour < 0 || c.SweepCutoffHour > 23 {
		return fmt.Errorf("SWEEP_CUTOFF_HOUR must be between 0 and 23, got %d", c.SweepCutoffHour)
	}
	if c.SweepIntervalMinutes < 1 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be at least 1, got %d", c.SweepIntervalMinutes)
	}
	if c.CallbackDeadlineHrs < 1 {
		return fmt.Errorf("CALLBACK_DEADLINE_HOURS must be at least 1, got %d", c.CallbackDeadlineHrs)
	}
	if c.OverrideReviewHours < 1 {
		return fmt.Errorf("OVERRIDE_REVIEW_HOURS must be at least 1, got %d", c.OverrideReviewHours)
	}
	if c.DoseWindowDays < 1 {
		return fmt.Errorf("DOSE_WINDOW_DAYS must be at least 1, got %d", c.DoseWindowDays)
	}

	if c.IsProduction() && c.DEAClinicID == "" {
		return fmt.Errorf("DEA_CLINIC_ID is required in production")
	}

	return nil
}
