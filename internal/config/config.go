// Package config loads runtime settings once at startup.
//
// Precedence, lowest to highest: built-in defaults, the YAML file named by
// CONFIG_FILE (if any), then environment variables. The result is treated as
// immutable and passed explicitly to whatever needs it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

const minJWTSecretLength = 16

// Config holds every setting the server reads.
type Config struct {
	// Server
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Store
	StoreDriver string `yaml:"store_driver"`
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`
	MongoURI    string `yaml:"mongo_uri"`
	MongoDB     string `yaml:"mongo_db"`

	// Session
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`

	// Password reset
	OTPTTL             time.Duration `yaml:"otp_ttl"`
	OTPCleanupInterval time.Duration `yaml:"otp_cleanup_interval"`

	// Mail
	SMTPHost  string `yaml:"smtp_host"`
	SMTPPort  int    `yaml:"smtp_port"`
	EmailUser string `yaml:"email_user"`
	EmailPass string `yaml:"email_pass"`
	EmailFrom string `yaml:"email_from"`

	// CORS
	CORSAllowedOrigin string `yaml:"cors_allowed_origin"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in settings. JWTSecret has no default.
func Default() *Config {
	return &Config{
		Port:               "3000",
		RequestTimeout:     15 * time.Second,
		StoreDriver:        DriverSQLite,
		DBPath:             "data/todo.db",
		MongoDB:            "todo",
		SessionTTL:         24 * time.Hour,
		CookieSecure:       true,
		OTPTTL:             10 * time.Minute,
		OTPCleanupInterval: 5 * time.Minute,
		SMTPPort:           587,
		CORSAllowedOrigin:  "http://localhost:5173",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load builds the Config from defaults, CONFIG_FILE and the environment.
// All missing or invalid required settings are reported in one error.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the YAML document at path onto cfg. Keys absent from the
// file keep their current value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvString("PORT", c.Port)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)

	c.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", c.StoreDriver))
	c.DBPath = getEnvString("DB_PATH", c.DBPath)
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.MongoURI = getEnvString("MONGO_URI", c.MongoURI)
	c.MongoDB = getEnvString("MONGO_DB", c.MongoDB)

	c.JWTSecret = getEnvString("JWT_SECRET", c.JWTSecret)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.CookieSecure = getEnvBool("COOKIE_SECURE", c.CookieSecure)

	c.OTPTTL = getEnvDuration("OTP_TTL", c.OTPTTL)
	c.OTPCleanupInterval = getEnvDuration("OTP_CLEANUP_INTERVAL", c.OTPCleanupInterval)

	c.SMTPHost = getEnvString("SMTP_HOST", c.SMTPHost)
	c.SMTPPort = getEnvInt("SMTP_PORT", c.SMTPPort)
	c.EmailUser = getEnvString("EMAIL_USER", c.EmailUser)
	c.EmailPass = getEnvString("EMAIL_PASS", c.EmailPass)
	c.EmailFrom = getEnvString("EMAIL_FROM", c.EmailFrom)
	if c.EmailFrom == "" {
		c.EmailFrom = c.EmailUser
	}

	c.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", c.CORSAllowedOrigin)

	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvString("LOG_FORMAT", c.LogFormat)
}

// Validate checks required settings and cross-field rules.
func (c *Config) Validate() error {
	var missing []string
	var problems []error

	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	} else if len(c.JWTSecret) < minJWTSecretLength {
		problems = append(problems, fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength))
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			missing = append(missing, "DB_PATH")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		problems = append(problems, fmt.Errorf("STORE_DRIVER %q is not one of sqlite, postgres, mongo", c.StoreDriver))
	}

	if c.SessionTTL <= 0 {
		problems = append(problems, errors.New("SESSION_TTL must be positive"))
	}
	if c.OTPTTL <= 0 {
		problems = append(problems, errors.New("OTP_TTL must be positive"))
	}

	if len(missing) > 0 {
		problems = append([]error{fmt.Errorf("required settings are not set: %v", missing)}, problems...)
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %w", errors.Join(problems...))
	}
	return nil
}

// MailEnabled reports whether an SMTP relay is configured. Without one the
// server logs reset codes instead of sending them.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
