// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pdfmarkd/internal/engine"
	"github.com/JakeFAU/pdfmarkd/internal/policy/ratelimit"
	"github.com/JakeFAU/pdfmarkd/internal/staging"
)

// Fetcher backends.
const (
	FetcherDrive = "drive"
	FetcherGCS   = "gcs"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Staging   staging.Config   `mapstructure:"staging"`
	Fetcher   FetcherConfig    `mapstructure:"fetcher"`
	RateLimit ratelimit.Config `mapstructure:"ratelimit"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	DB        DBConfig         `mapstructure:"db"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds the health and metrics endpoints; conversions are never cut short.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// EngineConfig holds engine options and admission limits.
type EngineConfig struct {
	DisableImageExtraction bool   `mapstructure:"disable_image_extraction"`
	OutputFormat           string `mapstructure:"output_format"`
	DisableProgressOutput  bool   `mapstructure:"disable_progress_output"`
	MaxPages               int    `mapstructure:"max_pages"`
	// Exclusive serializes every Convert call.
	Exclusive bool `mapstructure:"exclusive"`
	// MaxConcurrent bounds parallel conversions; 0 means unbounded.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// Options returns the engine construction options.
func (e EngineConfig) Options() engine.Options {
	return engine.Options{
		DisableImageExtraction: e.DisableImageExtraction,
		OutputFormat:           e.OutputFormat,
		DisableProgressOutput:  e.DisableProgressOutput,
		MaxPages:               e.MaxPages,
	}
}

// FetcherConfig selects and configures the remote blob fetcher.
type FetcherConfig struct {
	Backend string        `mapstructure:"backend"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig selects where produced Markdown is archived.
type ArchiveConfig struct {
	Backend  string `mapstructure:"backend"`
	Bucket   string `mapstructure:"bucket"`
	LocalDir string `mapstructure:"local_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// DBConfig controls access to the conversion audit table.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for conversion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PDFMARKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "PDFMARKD_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("engine.disable_image_extraction", true)
	v.SetDefault("engine.output_format", engine.OutputMarkdown)
	v.SetDefault("engine.disable_progress_output", true)
	v.SetDefault("engine.max_pages", 0)
	v.SetDefault("engine.exclusive", false)
	v.SetDefault("engine.max_concurrent", 4)
	v.SetDefault("staging.dir", "")
	v.SetDefault("staging.prefix", "payload")
	v.SetDefault("fetcher.backend", FetcherDrive)
	v.SetDefault("fetcher.base_url", "")
	v.SetDefault("fetcher.timeout", 60*time.Second)
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.prefix", "markdown")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "conversions")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0")
	}
	if !strings.EqualFold(c.Engine.OutputFormat, engine.OutputMarkdown) {
		return fmt.Errorf("engine.output_format must be %q, got %q", engine.OutputMarkdown, c.Engine.OutputFormat)
	}
	if c.Engine.MaxConcurrent < 0 {
		return fmt.Errorf("engine.max_concurrent must be >= 0")
	}
	if c.Engine.MaxPages < 0 {
		return fmt.Errorf("engine.max_pages must be >= 0")
	}
	switch c.Fetcher.Backend {
	case FetcherDrive, FetcherGCS:
	default:
		return fmt.Errorf("fetcher.backend must be one of drive, gcs; got %q", c.Fetcher.Backend)
	}
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.backend is local")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be one of none, memory, local, gcs; got %q", c.Archive.Backend)
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("ratelimit.rps must be > 0 when ratelimit is enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}
