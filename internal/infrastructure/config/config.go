package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Sandbox   SandboxConfig
	Bundler   BundlerConfig
	Modules   ModulesConfig
	Previews  PreviewsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `envconfig:"SURFPACK_PORT" default:"8000"`
	Host            string        `envconfig:"SURFPACK_HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SURFPACK_SHUTDOWN_TIMEOUT" default:"10s"`
	AllowOrigins    []string      `envconfig:"SURFPACK_ALLOW_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `envconfig:"SURFPACK_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"SURFPACK_LOG_DEV" default:"false"`
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"SURFPACK_RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"SURFPACK_RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"SURFPACK_RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig holds sandbox window configuration
type SandboxConfig struct {
	Timeout          time.Duration `envconfig:"SURFPACK_SANDBOX_TIMEOUT" default:"5s"`
	PoolSize         int           `envconfig:"SURFPACK_SANDBOX_POOL_SIZE" default:"4"`
	MaxCallStackSize int           `envconfig:"SURFPACK_SANDBOX_MAX_STACK" default:"1024"`
	ConsoleLimit     int           `envconfig:"SURFPACK_SANDBOX_CONSOLE_LIMIT" default:"1000"`
	// RemoteURL makes previews use a sandbox server instead of in-process windows
	RemoteURL string `envconfig:"SURFPACK_SANDBOX_REMOTE_URL"`
}

// BundlerConfig holds build configuration
type BundlerConfig struct {
	Target          string `envconfig:"SURFPACK_BUNDLER_TARGET" default:"es2020"`
	JSXImportSource string `envconfig:"SURFPACK_BUNDLER_JSX_IMPORT_SOURCE"`
}

// ModulesConfig holds remote module fetching configuration
type ModulesConfig struct {
	CDN       string        `envconfig:"SURFPACK_MODULES_CDN" default:"https://esm.sh"`
	Timeout   time.Duration `envconfig:"SURFPACK_MODULES_TIMEOUT" default:"30s"`
	Retries   int           `envconfig:"SURFPACK_MODULES_RETRIES" default:"3"`
	RateLimit float64       `envconfig:"SURFPACK_MODULES_RATE_LIMIT" default:"20"`
	CacheSize int           `envconfig:"SURFPACK_MODULES_CACHE_SIZE" default:"512"`
}

// PreviewsConfig holds preview session configuration
type PreviewsConfig struct {
	Max          int           `envconfig:"SURFPACK_PREVIEWS_MAX" default:"32"`
	HistoryLimit int           `envconfig:"SURFPACK_PREVIEWS_HISTORY" default:"256"`
	BuildWait    time.Duration `envconfig:"SURFPACK_PREVIEWS_BUILD_WAIT" default:"15s"`
}

// Load loads configuration from SURFPACK_* environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns Default
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values the components cannot work with
func (c *Config) Validate() error {
	if c.Sandbox.PoolSize < 0 {
		return fmt.Errorf("SURFPACK_SANDBOX_POOL_SIZE must not be negative")
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("SURFPACK_SANDBOX_TIMEOUT must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("SURFPACK_RATE_LIMIT_RPS must be positive when rate limiting is enabled")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			Timeout:          5 * time.Second,
			PoolSize:         4,
			MaxCallStackSize: 1024,
			ConsoleLimit:     1000,
		},
		Bundler: BundlerConfig{
			Target: "es2020",
		},
		Modules: ModulesConfig{
			CDN:       "https://esm.sh",
			Timeout:   30 * time.Second,
			Retries:   3,
			RateLimit: 20,
			CacheSize: 512,
		},
		Previews: PreviewsConfig{
			Max:          32,
			HistoryLimit: 256,
			BuildWait:    15 * time.Second,
		},
	}
}
