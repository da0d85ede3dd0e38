// ABOUTME: Tests for Gateway construction, Run/Shutdown, health endpoints and the idle sweeper
// ABOUTME: Runs real listeners for the HTTP and gRPC health servers

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/trio-gateway/internal/config"
	"github.com/2389/trio-gateway/internal/store"
)

// freeAddr returns a loopback address that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// testConfig creates a minimal offline config backed by a temp-dir database.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: freeAddr(t)},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "trio.db")},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a gateway and serves its handler over httptest.
func newTestServer(t *testing.T, cfg *config.Config) (*Gateway, *httptest.Server) {
	t.Helper()
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Shutdown(context.Background())
	})
	return gw, srv
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.hub)
	assert.NotNil(t, gw.router)
	assert.True(t, gw.auth.Anonymous())
	assert.Nil(t, gw.grpcServer, "no grpc_addr means no gRPC server")
}

func TestGatewayNew_RejectsBadRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Conversation.Cache = config.CacheRedis
	cfg.Conversation.Redis.Addr = freeAddr(t)

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestNewGenerator_Providers(t *testing.T) {
	for _, provider := range []string{config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOffline} {
		gen, err := newGenerator(config.GenerationConfig{
			Provider:  provider,
			APIKey:    "sk-test",
			Model:     "m",
			MaxTokens: 10,
		}, testLogger())
		require.NoError(t, err, provider)
		assert.NotNil(t, gen, provider)
	}

	_, err := newGenerator(config.GenerationConfig{Provider: "ollama"}, testLogger())
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	gw, srv := newTestServer(t, testConfig(t))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ready"`)

	gw.shuttingDown.Store(true)
	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGatewayRun_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCAddr = freeAddr(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()
	res, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.NoError(t, gw.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestGatewayRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = ln.Addr().String()
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	err = gw.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestSweepOnce_PausesIdleSessions(t *testing.T) {
	cfg := testConfig(t)
	gw, srv := newTestServer(t, cfg)

	sessionID := createSession(t, srv, "ana", "Login flow")
	ws := dialWS(t, srv, "ana")
	joinWS(t, ws, sessionID)

	sess, err := gw.store.GetSession(t.Context(), sessionID)
	require.NoError(t, err)
	require.Equal(t, store.SessionActive, sess.Status)

	gw.config.Sessions.InactiveTimeout = 10 * time.Millisecond
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, gw.sweepOnce(t.Context()))

	sess, err = gw.store.GetSession(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionPaused, sess.Status)
	assert.Zero(t, gw.sweepOnce(t.Context()))
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", remoteIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", remoteIP(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", remoteIP(r))
}
