// ABOUTME: Entry point for the trio-gateway session server
// ABOUTME: Cobra root command plus serve, init, health, stats and token subcommands

package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/trio-gateway/internal/config"
	"github.com/2389/trio-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _        _                         _
| |_ _ __(_) ___     __ _  __ _| |_ _____      ____ _ _   _
| __| '__| |/ _ \   / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_| |  | | (_) | | (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__|_|  |_|\___/   \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                    |___/                             |___/
`

const defaultConfigPath = "config.yaml"

// resolveConfigPath picks the config file.
// Priority: --config flag > TRIO_CONFIG env var > ./config.yaml
func resolveConfigPath(flag string) string {
	return cmp.Or(flag, os.Getenv("TRIO_CONFIG"), defaultConfigPath)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "trio-gateway",
		Short:         "Realtime session server for three amigos scenario workshops",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default $TRIO_CONFIG or ./config.yaml)")

	configPath := func() string { return resolveConfigPath(configFlag) }

	root.AddCommand(
		newServeCmd(configPath),
		newInitCmd(configPath),
		newHealthCmd(configPath),
		newStatsCmd(configPath),
		newTokenCmd(configPath),
	)
	return root
}

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:       %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Generation: ")
	cyan.Print(cfg.Generation.Provider)
	if cfg.Generation.Provider != config.ProviderOffline {
		gray.Printf(" (%s)", cfg.Generation.Model)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Context:    %s\n", cfg.Conversation.Cache)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! anonymous mode: X-User-ID is trusted")
	}
	fmt.Println()

	logger.Info("starting trio-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"provider", cfg.Generation.Provider,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}
