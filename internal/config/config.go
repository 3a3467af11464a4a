// Package config loads the compile service configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file, an
// optional .env file, then process environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable holding the YAML config path.
const ConfigFileEnv = "CONFIG_FILE"

// Config holds every operational parameter of the service.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr" env:"COMPILER_LISTEN_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"COMPILER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"COMPILER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"COMPILER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"COMPILER_SHUTDOWN_TIMEOUT"`

	// Compiler executable and argument template. {input}, {output} and {name}
	// are substituted per request.
	CompilerBin  string   `yaml:"compiler_bin" env:"COMPILER_BIN"`
	CompilerArgs []string `yaml:"compiler_args" env:"COMPILER_ARGS"`

	CompileTimeout  time.Duration `yaml:"compile_timeout" env:"COMPILER_TIMEOUT"`
	MaxConcurrent   int           `yaml:"max_concurrent" env:"COMPILER_MAX_CONCURRENT"`
	QueueSize       int           `yaml:"queue_size" env:"COMPILER_QUEUE_SIZE"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout" env:"COMPILER_ACQUIRE_TIMEOUT"`
	MaxRequestBytes int64         `yaml:"max_request_bytes" env:"COMPILER_MAX_REQUEST_BYTES"`

	ScratchDir       string        `yaml:"scratch_dir" env:"COMPILER_SCRATCH_DIR"`
	ValidateArtifact bool          `yaml:"validate_artifact" env:"COMPILER_VALIDATE_ARTIFACT"`
	ValidateMaxBytes int64         `yaml:"validate_max_bytes" env:"COMPILER_VALIDATE_MAX_BYTES"`
	JanitorSchedule  string        `yaml:"janitor_schedule" env:"COMPILER_JANITOR_SCHEDULE"`
	JanitorMaxAge    time.Duration `yaml:"janitor_max_age" env:"COMPILER_JANITOR_MAX_AGE"`
	MinFreeDiskBytes uint64        `yaml:"min_free_disk_bytes" env:"COMPILER_MIN_FREE_DISK_BYTES"`

	AllowedOrigins []string `yaml:"allowed_origins" env:"COMPILER_ALLOWED_ORIGINS"`
	RateLimitRPS   int      `yaml:"rate_limit_rps" env:"COMPILER_RATE_LIMIT_RPS"`
	RateLimitBurst int      `yaml:"rate_limit_burst" env:"COMPILER_RATE_LIMIT_BURST"`

	MetricsEnabled bool   `yaml:"metrics_enabled" env:"COMPILER_METRICS_ENABLED"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat      string `yaml:"log_format" env:"LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      "0.0.0.0:8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,

		CompilerBin:  "diffsl",
		CompilerArgs: []string{"{input}", "-o", "{output}", "--model", "{name}"},

		CompileTimeout:  2 * time.Minute,
		MaxConcurrent:   runtime.NumCPU(),
		QueueSize:       64,
		AcquireTimeout:  30 * time.Second,
		MaxRequestBytes: 1 << 20,

		ScratchDir:       filepath.Join(os.TempDir(), "wasm-compiler"),
		ValidateArtifact: true,
		ValidateMaxBytes: 64 << 20,
		JanitorSchedule:  "@every 10m",
		JanitorMaxAge:    time.Hour,
		MinFreeDiskBytes: 256 << 20,

		AllowedOrigins: []string{"*"},
		RateLimitRPS:   0,
		RateLimitBurst: 10,

		MetricsEnabled: true,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// Load resolves the configuration. path may be empty, in which case the
// CONFIG_FILE environment variable is consulted.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigFileEnv))
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.ListenAddr) == "":
		return fmt.Errorf("listen address is required")
	case strings.TrimSpace(c.CompilerBin) == "":
		return fmt.Errorf("compiler binary is required")
	case strings.TrimSpace(c.ScratchDir) == "":
		return fmt.Errorf("scratch directory is required")
	case c.CompileTimeout <= 0:
		return fmt.Errorf("compile timeout must be positive, got %s", c.CompileTimeout)
	case c.MaxConcurrent <= 0:
		return fmt.Errorf("max concurrent compiles must be positive, got %d", c.MaxConcurrent)
	case c.QueueSize < 0:
		return fmt.Errorf("queue size must not be negative, got %d", c.QueueSize)
	case c.MaxRequestBytes <= 0:
		return fmt.Errorf("max request bytes must be positive, got %d", c.MaxRequestBytes)
	case c.RateLimitRPS < 0:
		return fmt.Errorf("rate limit must not be negative, got %d", c.RateLimitRPS)
	case c.RateLimitRPS > 0 && c.RateLimitBurst <= 0:
		return fmt.Errorf("rate limit burst must be positive when rate limiting is enabled")
	case c.JanitorMaxAge > 0 && c.JanitorMaxAge <= c.CompileTimeout:
		return fmt.Errorf("janitor max age (%s) must exceed compile timeout (%s)", c.JanitorMaxAge, c.CompileTimeout)
	}
	return nil
}
