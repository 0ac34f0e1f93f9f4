package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"

	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	// ConfigPathEnvVar overrides the config file location.
	ConfigPathEnvVar = "CONFIG_PATH"
	envPrefix        = "PAIRCHAT_"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type ServerConfig struct {
	Address           string        `koanf:"address"`
	Environment       string        `koanf:"environment"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	// URL is a sqlite:// path, a postgres:// DSN or a mongodb:// URI.
	URL           string `koanf:"url"`
	MongoDatabase string `koanf:"mongo_database"`
}

type AuthConfig struct {
	JWTSecret    string        `koanf:"jwt_secret"`
	TokenTTL     time.Duration `koanf:"token_ttl"`
	CookieName   string        `koanf:"cookie_name"`
	SecureCookie bool          `koanf:"secure_cookie"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

type RateLimitConfig struct {
	Requests     int           `koanf:"requests"`
	AuthRequests int           `koanf:"auth_requests"`
	Window       time.Duration `koanf:"window"`
	Disabled     bool          `koanf:"disabled"`
}

func defaultConfig() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	dbPath := filepath.Join(cwd, "data", "pairchat.db")

	return &Config{
		Server: ServerConfig{
			Address:           ":3000",
			Environment:       EnvironmentDevelopment,
			AllowedOrigins:    []string{"http://localhost:5173"},
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:        DriverSQLite,
			URL:           "sqlite://" + dbPath,
			MongoDatabase: "pairchat",
		},
		Auth: AuthConfig{
			JWTSecret:  "your-secret-key",
			TokenTTL:   7 * 24 * time.Hour,
			CookieName: "jwt",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Requests:     300,
			AuthRequests: 20,
			Window:       time.Minute,
		},
	}
}

// Load layers defaults, an optional YAML file and the environment.
// path may be empty, in which case CONFIG_PATH and ./config.yaml are tried.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if err := loadLegacyEnv(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps PAIRCHAT_DATABASE__DRIVER to database.driver.
func envTransform(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// loadLegacyEnv honours the plain variable names used before the
// PAIRCHAT_ prefix existed.
func loadLegacyEnv(k *koanf.Koanf) error {
	legacy := map[string]string{
		"SERVER_ADDRESS": "server.address",
		"DATABASE_URL":   "database.url",
		"JWT_SECRET":     "auth.jwt_secret",
		"NODE_ENV":       "server.environment",
	}
	for name, path := range legacy {
		if value, ok := os.LookupEnv(name); ok {
			if err := k.Set(path, value); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}

	// Comma-separated list from the environment.
	if raw, ok := k.Get("server.allowed_origins").(string); ok {
		var origins []string
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if err := k.Set("server.allowed_origins", origins); err != nil {
			return fmt.Errorf("failed to set allowed origins: %w", err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMongo:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token_ttl must be positive")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("auth cookie_name is required")
	}
	if c.Server.Environment == EnvironmentProduction && c.Auth.JWTSecret == defaultConfig().Auth.JWTSecret {
		return fmt.Errorf("auth jwt_secret must be changed in production")
	}
	return nil
}

// IsDevelopment reports whether diagnostic error detail may be returned to
// clients.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvironmentDevelopment
}

// CleanDatabasePath returns a clean filesystem path from a database URL
func (c *Config) CleanDatabasePath() string {
	// Strip sqlite:// prefix if present
	dbPath := strings.TrimPrefix(c.Database.URL, "sqlite://")

	if !filepath.IsAbs(dbPath) {
		cwd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		dbPath = filepath.Join(cwd, dbPath)
	}

	return dbPath
}

// UpdateDatabasePath updates the database path, maintaining the sqlite:// prefix if it was present
func (c *Config) UpdateDatabasePath(newPath string) {
	if strings.HasPrefix(c.Database.URL, "sqlite://") {
		c.Database.URL = "sqlite://" + newPath
	} else {
		c.Database.URL = newPath
	}
}
