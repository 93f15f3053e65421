package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string `mapstructure:"DEFAULT_TENANT"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	CatalogFile string `mapstructure:"CATALOG_FILE"`

	EmergencyAccessTTLMinutes int `mapstructure:"EMERGENCY_ACCESS_TTL_MINUTES"`
	AuditRetentionYears       int `mapstructure:"AUDIT_RETENTION_YEARS"`
	ArchiveSweepMinutes       int `mapstructure:"ARCHIVE_SWEEP_INTERVAL_MINUTES"`

	RequestTimeoutSeconds int `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("EMERGENCY_ACCESS_TTL_MINUTES", 10)
	v.SetDefault("AUDIT_RETENTION_YEARS", 7)
	v.SetDefault("ARCHIVE_SWEEP_INTERVAL_MINUTES", 60)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CATALOG_FILE")
	v.BindEnv("EMERGENCY_ACCESS_TTL_MINUTES")
	v.BindEnv("AUDIT_RETENTION_YEARS")
	v.BindEnv("ARCHIVE_SWEEP_INTERVAL_MINUTES")
	v.BindEnv("REQUEST_TIMEOUT_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_SIGNING_KEY.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EmergencyAccessTTL returns the server-enforced emergency window. Any
// countdown a client renders is cosmetic; this value rules.
func (c *Config) EmergencyAccessTTL() time.Duration {
	return time.Duration(c.EmergencyAccessTTLMinutes) * time.Minute
}

// ArchiveSweepInterval returns how often the retention sweep runs.
func (c *Config) ArchiveSweepInterval() time.Duration {
	return time.Duration(c.ArchiveSweepMinutes) * time.Minute
}

// RequestTimeout returns the per-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. Production
// requires a real signing key so DevAuthMiddleware can never be active
// there, and the emergency window is held inside its policy bounds.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}

	if c.EmergencyAccessTTLMinutes < 5 || c.EmergencyAccessTTLMinutes > 15 {
		return fmt.Errorf("EMERGENCY_ACCESS_TTL_MINUTES must be between 5 and 15, got %d", c.EmergencyAccessTTLMinutes)
	}

	if c.AuditRetentionYears < 7 {
		return fmt.Errorf("AUDIT_RETENTION_YEARS must be at least 7, got %d", c.AuditRetentionYears)
	}

	if c.ArchiveSweepMinutes <= 0 {
		return fmt.Errorf("ARCHIVE_SWEEP_INTERVAL_MINUTES must be positive, got %d", c.ArchiveSweepMinutes)
	}

	return nil
}
