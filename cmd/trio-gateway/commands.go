// ABOUTME: Operator subcommands that talk to a running gateway or its config
// ABOUTME: init writes a starter config, health/stats query HTTP, token mints JWTs

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/trio-gateway/internal/auth"
	"github.com/2389/trio-gateway/internal/config"
)

const requestTimeout = 5 * time.Second

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func newInitCmd(configPath func() string) *cobra.Command {
	var (
		force    bool
		provider string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with a fresh JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout(), configPath(), provider, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().StringVar(&provider, "provider", config.ProviderOffline, "generation provider (openai, anthropic, offline)")
	return cmd
}

func runInit(out io.Writer, path, provider string, force bool) error {
	switch provider {
	case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOffline:
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	apiKey := ""
	if provider != config.ProviderOffline {
		apiKey = fmt.Sprintf("${%s_API_KEY}", strings.ToUpper(provider))
	}

	content := fmt.Sprintf(`# trio-gateway configuration
# Generated by trio-gateway init

server:
  http_addr: "localhost:8080"

database:
  path: "trio.db"

auth:
  jwt_secret: "%s"

sessions:
  max_participants: %d
  grace_period: "%s"
  inactive_timeout: "%s"

conversation:
  context_size: %d
  cache: "memory"

generation:
  provider: "%s"
  api_key: "%s"

logging:
  level: "info"
  format: "text"
`, base64.StdEncoding.EncodeToString(secret),
		config.DefaultMaxParticipants, config.DefaultGracePeriod, config.DefaultInactiveTimeout,
		config.DefaultContextSize, provider, apiKey)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "%s Created config: %s\n", color.GreenString("✓"), path)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  trio-gateway serve --config", path)
	return nil
}

func newHealthCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that a running gateway is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			body, err := get(cmd.Context(), baseURL(cfg.Server.HTTPAddr)+"/health/ready", nil)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			fmt.Fprint(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

func newStatsCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show live connection and room counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			header, err := operatorAuth(cfg.Auth)
			if err != nil {
				return err
			}
			body, err := get(cmd.Context(), baseURL(cfg.Server.HTTPAddr)+"/api/stats", header)
			if err != nil {
				return fmt.Errorf("fetching stats: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}

// operatorAuth returns the headers the CLI sends to the REST API: a
// short-lived token when JWT auth is on, an operator user id otherwise.
func operatorAuth(cfg config.AuthConfig) (http.Header, error) {
	header := http.Header{}
	if cfg.JWTSecret == "" {
		header.Set(auth.HeaderUserID, "operator")
		return header, nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate("operator", "Operator", "", "", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	header.Set("Authorization", "Bearer "+token)
	return header, nil
}

func get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func newTokenCmd(configPath func() string) *cobra.Command {
	var (
		userID, name, email, role string
		ttl                       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for a user with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(userID) == "" {
				return errors.New("--user is required")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("jwt_secret not configured in %s", configPath())
			}
			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating JWT verifier: %w", err)
			}
			token, err := verifier.Generate(userID, name, email, role, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (token subject)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "participant role (business_analyst, developer, tester, observer)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
