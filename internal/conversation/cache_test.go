// ABOUTME: Tests for the in-memory and Redis context caches
// ABOUTME: Redis tests run against a testcontainers redis and skip without Docker

package conversation

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/2389/trio-gateway/internal/store"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipRedis          bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, redis tests will be skipped: %v\n", containerErr)
		skipRedis = true
	} else if err := connectRedis(ctx); err != nil {
		fmt.Printf("Redis not reachable, redis tests will be skipped: %v\n", err)
		skipRedis = true
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func connectRedis(ctx context.Context) error {
	host, err := testRedisContainer.Host(ctx)
	if err != nil {
		return err
	}
	port, err := testRedisContainer.MappedPort(ctx, "6379")
	if err != nil {
		return err
	}
	testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	return testRedisClient.Ping(ctx).Err()
}

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipRedis {
		t.Skip("Docker not available, skipping redis test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	return testRedisClient
}

func sampleContext(id string) *SessionContext {
	return &SessionContext{
		SessionID:       id,
		BusinessContext: store.ContextFinance,
		Language:        "en",
		Messages: []Entry{
			{Sender: store.SenderUser, Content: "generate scenarios", CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		},
		Scenarios: []ScenarioSummary{{ID: "sc-1", Title: "Transfer", Content: "Given...", Status: store.ScenarioDraft}},
	}
}

func TestMemoryCache_CopiesValues(t *testing.T) {
	c := NewMemoryCache(0, 0)
	defer c.Close()
	ctx := context.Background()

	sc := sampleContext("s1")
	require.NoError(t, c.Set(ctx, sc))
	sc.Messages[0].Content = "mutated"

	got, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "generate scenarios", got.Messages[0].Content)

	got.Scenarios = nil
	again, _, _ := c.Get(ctx, "s1")
	assert.Len(t, again.Scenarios, 1)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(0, 2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleContext("a")))
	require.NoError(t, c.Set(ctx, sampleContext("b")))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, sampleContext("c")))

	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Expires(t *testing.T) {
	c := NewMemoryCache(20*time.Millisecond, 0)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleContext("a")))
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryCache_Clear(t *testing.T) {
	c := NewMemoryCache(0, 0)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, sampleContext("a")))
	require.NoError(t, c.Clear(ctx, "a"))
	require.NoError(t, c.Clear(ctx, "missing"))
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_RoundTripAndClear(t *testing.T) {
	rdb := getRedis(t)
	c := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, sampleContext("s1")))
	got, ok, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleContext("s1"), got)

	ttl, err := rdb.TTL(ctx, DefaultRedisPrefix+"s1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.Clear(ctx, "s1"))
	_, ok, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_BacksRouter(t *testing.T) {
	rdb := getRedis(t)
	s := store.NewMockStore()
	sess := newTestSession(t, s, "")
	ctx := context.Background()

	r := New(s, scripted("Sure.", nil, nil), NewRedisCache(rdb, time.Minute), Config{}, nil)
	r.Process(ctx, Exchange{SessionID: sess.ID, UserID: "ana", Content: "is it ready yet?"})

	other := New(s, scripted("Sure.", nil, nil), NewRedisCache(rdb, time.Minute), Config{}, nil)
	st, ok, err := other.Stats(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, st.Messages)
}
