// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, durations and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  allowed_origins:
    - "app.example.com"

database:
  path: "./test.db"

sessions:
  max_participants: 4
  grace_period: "45s"
  inactive_timeout: "2h"
  sweep_interval: "1m"

conversation:
  context_size: 10
  prompt_context: 3
  cache: redis
  redis:
    addr: "localhost:6379"
    db: 2
    ttl: "1h"

generation:
  provider: anthropic
  api_key: "sk-test"
  max_tokens: 500
  temperature: 0.2
  timeout: "10s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" || cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "app.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Sessions.MaxParticipants != 4 {
		t.Errorf("MaxParticipants = %d, want 4", cfg.Sessions.MaxParticipants)
	}
	if cfg.Sessions.GracePeriod != 45*time.Second {
		t.Errorf("GracePeriod = %v, want 45s", cfg.Sessions.GracePeriod)
	}
	if cfg.Sessions.InactiveTimeout != 2*time.Hour {
		t.Errorf("InactiveTimeout = %v, want 2h", cfg.Sessions.InactiveTimeout)
	}
	if cfg.Sessions.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.Sessions.SweepInterval)
	}
	if cfg.Conversation.Cache != CacheRedis || cfg.Conversation.Redis.DB != 2 || cfg.Conversation.Redis.TTL != time.Hour {
		t.Errorf("unexpected conversation config: %+v", cfg.Conversation)
	}
	if cfg.Generation.Provider != ProviderAnthropic {
		t.Errorf("Provider = %q, want anthropic", cfg.Generation.Provider)
	}
	if cfg.Generation.Model != defaultAnthropicModel || cfg.Generation.FallbackModel != defaultAnthropicFallbackModel {
		t.Errorf("anthropic models not defaulted: %+v", cfg.Generation)
	}
	if cfg.Generation.Temperature != 0.2 || cfg.Generation.MaxTokens != 500 || cfg.Generation.Timeout != 10*time.Second {
		t.Errorf("unexpected generation tuning: %+v", cfg.Generation)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: ":memory:"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"max_participants", cfg.Sessions.MaxParticipants, DefaultMaxParticipants},
		{"grace_period", cfg.Sessions.GracePeriod, DefaultGracePeriod},
		{"inactive_timeout", cfg.Sessions.InactiveTimeout, DefaultInactiveTimeout},
		{"sweep_interval", cfg.Sessions.SweepInterval, DefaultSweepInterval},
		{"context_size", cfg.Conversation.ContextSize, DefaultContextSize},
		{"prompt_context", cfg.Conversation.PromptContext, DefaultPromptContext},
		{"cache", cfg.Conversation.Cache, CacheMemory},
		{"redis.ttl", cfg.Conversation.Redis.TTL, DefaultRedisTTL},
		{"provider", cfg.Generation.Provider, ProviderOffline},
		{"max_tokens", cfg.Generation.MaxTokens, DefaultMaxTokens},
		{"temperature", cfg.Generation.Temperature, DefaultTemperature},
		{"timeout", cfg.Generation.Timeout, DefaultTimeout},
		{"logging.level", cfg.Logging.Level, "info"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_APIKeySelectsOpenAI(t *testing.T) {
	t.Setenv("TRIO_TEST_API_KEY", "sk-from-env")
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: ":memory:"
generation:
  api_key: "${TRIO_TEST_API_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Generation.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want expanded value", cfg.Generation.APIKey)
	}
	if cfg.Generation.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q, want openai", cfg.Generation.Provider)
	}
	if cfg.Generation.Model != defaultOpenAIModel || cfg.Generation.FallbackModel != defaultOpenAIFallbackModel {
		t.Errorf("openai models not defaulted: %+v", cfg.Generation)
	}
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("TRIO_TEST_SECRET", strings.Repeat("s", 32))
	path := writeConfig(t, "config.toml", `
[server]
http_addr = ":9090"

[database]
path = "trio.db"

[auth]
jwt_secret = "${TRIO_TEST_SECRET}"

[sessions]
grace_period = "5s"

[generation]
provider = "offline"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != ":9090" || cfg.Database.Path != "trio.db" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if len(cfg.Auth.JWTSecret) != 32 {
		t.Errorf("JWTSecret not expanded: %q", cfg.Auth.JWTSecret)
	}
	if cfg.Sessions.GracePeriod != 5*time.Second {
		t.Errorf("GracePeriod = %v, want 5s", cfg.Sessions.GracePeriod)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing http addr",
			content: "database:\n  path: x.db\n",
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			content: "server:\n  http_addr: :8080\n",
			wantErr: "database.path",
		},
		{
			name:    "bad duration",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: x.db\nsessions:\n  grace_period: soon\n",
			wantErr: "sessions.grace_period",
		},
		{
			name:    "short secret",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: x.db\nauth:\n  jwt_secret: short\n",
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "redis without addr",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: x.db\nconversation:\n  cache: redis\n",
			wantErr: "conversation.redis.addr",
		},
		{
			name:    "unknown cache",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: x.db\nconversation:\n  cache: memcached\n",
			wantErr: "conversation.cache",
		},
		{
			name:    "anthropic without key",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: x.db\ngeneration:\n  provider: anthropic\n",
			wantErr: "generation.api_key",
		},
		{
			name:    "unknown provider",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: x.db\ngeneration:\n  provider: ollama\n",
			wantErr: "generation.provider",
		},
		{
			name:    "prompt context larger than context",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: x.db\nconversation:\n  context_size: 3\n  prompt_context: 5\n",
			wantErr: "prompt_context",
		},
		{
			name:    "bad log level",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: x.db\nlogging:\n  level: loud\n",
			wantErr: "logging.level",
		},
		{
			name:    "invalid yaml",
			content: "server: [",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want a read error", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TRIO_A", "alpha")
	got := expandEnvVars("a=${TRIO_A} b=${TRIO_UNSET_VAR} c=$TRIO_A")
	want := "a=alpha b= c=$TRIO_A"
	if got != want {
		t.Errorf("expandEnvVars() = %q, want %q", got, want)
	}
}
