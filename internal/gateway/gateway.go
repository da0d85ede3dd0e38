// ABOUTME: Gateway orchestrator that wires the session components and runs the servers
// ABOUTME: Owns the HTTP server (REST, websocket, health), the gRPC health server and the idle sweeper

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/trio-gateway/internal/auth"
	"github.com/2389/trio-gateway/internal/config"
	"github.com/2389/trio-gateway/internal/conversation"
	"github.com/2389/trio-gateway/internal/generation"
	"github.com/2389/trio-gateway/internal/lifecycle"
	"github.com/2389/trio-gateway/internal/presence"
	"github.com/2389/trio-gateway/internal/realtime"
	"github.com/2389/trio-gateway/internal/store"
)

// Gateway orchestrates the trio-gateway server components.
type Gateway struct {
	config   *config.Config
	store    store.Store
	sessions *lifecycle.Manager
	presence *presence.Registry
	router   *conversation.Router
	hub      *realtime.Hub
	auth     *auth.Authenticator
	cache    contextCache
	logger   *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	shuttingDown atomic.Bool
	sweepStop    context.CancelFunc
	sweepDone    chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the SQLite store. TRIO_DB_PATH overrides database.path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TRIO_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newGenerator builds the configured provider behind the fallback wrapper.
func newGenerator(cfg config.GenerationConfig, logger *slog.Logger) (generation.Generator, error) {
	opts := generation.Options{
		Model:         cfg.Model,
		FallbackModel: cfg.FallbackModel,
		MaxTokens:     cfg.MaxTokens,
		Timeout:       cfg.Timeout,
	}

	var base generation.Generator
	var err error
	switch cfg.Provider {
	case config.ProviderOpenAI:
		base, err = generation.NewOpenAIFromAPIKey(cfg.APIKey, cfg.BaseURL)
	case config.ProviderAnthropic:
		base, err = generation.NewAnthropicFromAPIKey(cfg.APIKey, cfg.BaseURL)
	case config.ProviderOffline:
		base = generation.Offline{}
		opts.Model = generation.OfflineModel
		opts.FallbackModel = ""
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s generator: %w", cfg.Provider, err)
	}

	logger.Info("generation provider configured", "provider", cfg.Provider, "model", opts.Model, "fallback_model", opts.FallbackModel)
	return generation.NewFallback(base, opts, logger), nil
}

// Memory cache bounds. Redis entries use conversation.redis.ttl instead.
const (
	memoryCacheTTL      = 24 * time.Hour
	memoryCacheSessions = 1000
)

// contextCache is a ContextCache that owns resources released on shutdown.
type contextCache interface {
	conversation.ContextCache
	Close() error
}

// newContextCache builds the router's context cache from config.
func newContextCache(ctx context.Context, cfg config.ConversationConfig) (contextCache, error) {
	if cfg.Cache != config.CacheRedis {
		return conversation.NewMemoryCache(memoryCacheTTL, memoryCacheSessions), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return conversation.NewRedisCache(rdb, cfg.Redis.TTL), nil
}

// newAuthenticator returns an anonymous authenticator when no secret is set.
func newAuthenticator(cfg config.AuthConfig, logger *slog.Logger) (*auth.Authenticator, error) {
	if cfg.JWTSecret == "" {
		logger.Warn("auth disabled - no jwt_secret configured, trusting X-User-ID")
		return auth.NewAuthenticator(nil, logger), nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	logger.Info("JWT authentication enabled")
	return auth.NewAuthenticator(verifier, logger), nil
}

// newGRPCServer creates a gRPC server exposing only the standard health service.
func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	authenticator, err := newAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg.Generation, logger)
	if err != nil {
		return nil, err
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := newContextCache(context.Background(), cfg.Conversation)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	sessions := lifecycle.New(s, lifecycle.Config{
		MaxParticipants: cfg.Sessions.MaxParticipants,
	}, logger.With("component", "lifecycle"))
	registry := presence.NewRegistry(logger)
	router := conversation.New(s, gen, cache, conversation.Config{
		ContextSize:   cfg.Conversation.ContextSize,
		PromptContext: cfg.Conversation.PromptContext,
		Temperature:   cfg.Generation.Temperature,
	}, logger)
	hub := realtime.NewHub(sessions, router, s, registry, realtime.Config{
		GracePeriod: cfg.Sessions.GracePeriod,
	}, logger)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		sessions: sessions,
		presence: registry,
		router:   router,
		hub:      hub,
		auth:     authenticator,
		cache:    cache,
		logger:   logger.With("component", "gateway"),
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newGRPCServer()
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	mux.Handle("GET /ws", realtime.NewHandler(hub, gw.identifyConnection, cfg.Server.AllowedOrigins, logger))
	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving REST, websocket and health routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// identifyConnection maps the upgrade request to a realtime identity. In
// anonymous mode a request without X-User-ID is still accepted; the join
// payload then names the user.
func (g *Gateway) identifyConnection(r *http.Request) (realtime.Identity, error) {
	a, err := g.auth.Identify(r)
	if err != nil {
		if !g.auth.Anonymous() {
			return realtime.Identity{}, err
		}
		a = &auth.AuthContext{Anonymous: true}
	}
	return realtime.Identity{
		UserID:    a.UserID,
		Name:      a.Name,
		Email:     a.Email,
		Role:      a.Role,
		RemoteIP:  remoteIP(r),
		UserAgent: r.UserAgent(),
	}, nil
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// setupListeners opens the HTTP listener and, when configured, the gRPC one.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}
	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning an error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and the idle sweeper, and blocks until the context
// is canceled or a server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	g.startSweeper(ctx)
	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting work, lets queued replies finish, closes every
// connection and releases the store. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.shuttingDown.Store(true)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.stopSweeper()
	errs = appendCloseError(errs, "hub shutdown", g.hub.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "context cache close", g.cache.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
