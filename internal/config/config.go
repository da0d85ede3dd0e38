// ABOUTME: Configuration loading and parsing for trio-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Generation providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOffline   = "offline"
)

// Context cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultMaxParticipants = 10
	DefaultGracePeriod     = 30 * time.Second
	DefaultInactiveTimeout = 24 * time.Hour
	DefaultSweepInterval   = 10 * time.Minute
	DefaultContextSize     = 20
	DefaultPromptContext   = 5
	DefaultRedisTTL        = 24 * time.Hour
	DefaultMaxTokens       = 2000
	DefaultTemperature     = 0.7
	DefaultTimeout         = 30 * time.Second

	defaultOpenAIModel            = "gpt-4-turbo"
	defaultOpenAIFallbackModel    = "gpt-3.5-turbo"
	defaultAnthropicModel         = "claude-sonnet-4-5"
	defaultAnthropicFallbackModel = "claude-3-5-haiku-latest"

	minSecretLength = 32
)

// Config represents the complete trio-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	Sessions     SessionsConfig     `yaml:"sessions" toml:"sessions"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Generation   GenerationConfig   `yaml:"generation" toml:"generation"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr enables the gRPC health service when set.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	// AllowedOrigins restricts websocket upgrades; empty accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration. An empty JWTSecret runs
// the gateway in anonymous mode.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SessionsConfig holds admission and presence timing
type SessionsConfig struct {
	MaxParticipants int `yaml:"max_participants" toml:"max_participants"`

	GracePeriod     time.Duration `yaml:"-" toml:"-"`
	InactiveTimeout time.Duration `yaml:"-" toml:"-"`
	SweepInterval   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	GracePeriodRaw     string `yaml:"grace_period" toml:"grace_period"`
	InactiveTimeoutRaw string `yaml:"inactive_timeout" toml:"inactive_timeout"`
	SweepIntervalRaw   string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// ConversationConfig holds the router's context settings
type ConversationConfig struct {
	ContextSize   int         `yaml:"context_size" toml:"context_size"`
	PromptContext int         `yaml:"prompt_context" toml:"prompt_context"`
	Cache         string      `yaml:"cache" toml:"cache"`
	Redis         RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig holds the shared context cache connection
type RedisConfig struct {
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	TTL      time.Duration `yaml:"-" toml:"-"`
	TTLRaw   string        `yaml:"ttl" toml:"ttl"`
}

// GenerationConfig selects and tunes the text generation backend
type GenerationConfig struct {
	Provider      string  `yaml:"provider" toml:"provider"`
	APIKey        string  `yaml:"api_key" toml:"api_key"`
	BaseURL       string  `yaml:"base_url" toml:"base_url"`
	Model         string  `yaml:"model" toml:"model"`
	FallbackModel string  `yaml:"fallback_model" toml:"fallback_model"`
	MaxTokens     int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature   float64 `yaml:"temperature" toml:"temperature"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills every unset field. The provider defaults to openai
// when an API key is configured and to offline otherwise.
func (c *Config) ApplyDefaults() {
	s := &c.Sessions
	if s.MaxParticipants == 0 {
		s.MaxParticipants = DefaultMaxParticipants
	}
	if s.GracePeriod == 0 {
		s.GracePeriod = DefaultGracePeriod
	}
	if s.InactiveTimeout == 0 {
		s.InactiveTimeout = DefaultInactiveTimeout
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = DefaultSweepInterval
	}

	conv := &c.Conversation
	if conv.ContextSize == 0 {
		conv.ContextSize = DefaultContextSize
	}
	if conv.PromptContext == 0 {
		conv.PromptContext = DefaultPromptContext
	}
	if conv.Cache == "" {
		conv.Cache = CacheMemory
	}
	if conv.Redis.TTL == 0 {
		conv.Redis.TTL = DefaultRedisTTL
	}

	g := &c.Generation
	if g.Provider == "" {
		g.Provider = ProviderOffline
		if g.APIKey != "" {
			g.Provider = ProviderOpenAI
		}
	}
	switch g.Provider {
	case ProviderOpenAI:
		g.Model = cmp.Or(g.Model, defaultOpenAIModel)
		g.FallbackModel = cmp.Or(g.FallbackModel, defaultOpenAIFallbackModel)
	case ProviderAnthropic:
		g.Model = cmp.Or(g.Model, defaultAnthropicModel)
		g.FallbackModel = cmp.Or(g.FallbackModel, defaultAnthropicFallbackModel)
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = DefaultMaxTokens
	}
	if g.Temperature == 0 {
		g.Temperature = DefaultTemperature
	}
	if g.Timeout == 0 {
		g.Timeout = DefaultTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	if c.Sessions.MaxParticipants < 1 {
		return errors.New("sessions.max_participants must be at least 1")
	}
	if c.Sessions.GracePeriod < 0 || c.Sessions.InactiveTimeout < 0 || c.Sessions.SweepInterval < 0 {
		return errors.New("sessions durations must not be negative")
	}

	conv := c.Conversation
	if conv.ContextSize < 1 {
		return errors.New("conversation.context_size must be at least 1")
	}
	if conv.PromptContext < 0 || conv.PromptContext > conv.ContextSize {
		return errors.New("conversation.prompt_context must be between 0 and context_size")
	}
	switch conv.Cache {
	case CacheMemory:
	case CacheRedis:
		if conv.Redis.Addr == "" {
			return errors.New("conversation.redis.addr is required when cache is redis")
		}
	default:
		return fmt.Errorf("conversation.cache %q is not one of memory, redis", conv.Cache)
	}

	g := c.Generation
	switch g.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if g.APIKey == "" {
			return fmt.Errorf("generation.api_key is required for provider %s", g.Provider)
		}
	case ProviderOffline:
	default:
		return fmt.Errorf("generation.provider %q is not one of openai, anthropic, offline", g.Provider)
	}
	if g.MaxTokens < 1 {
		return errors.New("generation.max_tokens must be at least 1")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return errors.New("generation.temperature must be between 0 and 2")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sessions.grace_period", cfg.Sessions.GracePeriodRaw, &cfg.Sessions.GracePeriod},
		{"sessions.inactive_timeout", cfg.Sessions.InactiveTimeoutRaw, &cfg.Sessions.InactiveTimeout},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"conversation.redis.ttl", cfg.Conversation.Redis.TTLRaw, &cfg.Conversation.Redis.TTL},
		{"generation.timeout", cfg.Generation.TimeoutRaw, &cfg.Generation.Timeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
