// ABOUTME: Tests for the presence registry and the deferred leave scheduler
// ABOUTME: Checks that rooms, typing and connections stay consistent and timers cancel cleanly

package presence

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndDeregister(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register("c1", "ana", "s1", Info{Name: "Ana"}))
	require.NoError(t, r.Register("c2", "bob", "s1", Info{Name: "Bob"}))
	require.NoError(t, r.Register("c3", "carol", "", Info{Name: "Carol"}))
	assert.ErrorIs(t, r.Register("c1", "ana", "s1", Info{}), ErrAlreadyRegistered)

	assert.Equal(t, []string{"c1", "c2"}, r.ConnIDs("s1"))
	assert.Equal(t, []string{"c2"}, r.ConnIDs("s1", "c1"))
	assert.Equal(t, Stats{Connections: 3, Rooms: 1}, r.Stats())

	_, _, err := r.SetTyping("c1", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana"}, r.Typing("s1"))

	m, ok := r.Deregister("c1")
	require.True(t, ok)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "Ana", m.Info.Name)
	assert.Empty(t, r.Typing("s1"), "typing cleared with the connection")
	assert.Equal(t, []string{"c2"}, r.ConnIDs("s1"))

	_, ok = r.Deregister("c1")
	assert.False(t, ok)

	r.Deregister("c2")
	assert.Equal(t, Stats{Connections: 1, Rooms: 0}, r.Stats(), "empty rooms are dropped")
}

func TestRegistry_Move(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("c1", "ana", "", Info{}))

	before, err := r.Move("c1", "s1")
	require.NoError(t, err)
	assert.Empty(t, before.SessionID)
	assert.True(t, r.HasUser("s1", "ana"))

	_, _, err = r.SetTyping("c1", true)
	require.NoError(t, err)

	before, err = r.Move("c1", "s2")
	require.NoError(t, err)
	assert.Equal(t, "s1", before.SessionID)
	assert.False(t, r.HasUser("s1", "ana"))
	assert.True(t, r.HasUser("s2", "ana"))
	assert.Empty(t, r.Typing("s1"))

	_, err = r.Move("c1", "")
	require.NoError(t, err)
	m, ok := r.Lookup("c1")
	require.True(t, ok)
	assert.Empty(t, m.SessionID)
	assert.Equal(t, 0, r.Stats().Rooms)

	_, err = r.Move("nope", "s1")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRegistry_SetTypingReportsChanges(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("c1", "ana", "s1", Info{}))
	require.NoError(t, r.Register("c2", "bob", "", Info{}))

	_, changed, err := r.SetTyping("c1", true)
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, _ = r.SetTyping("c1", true)
	assert.False(t, changed)

	_, changed, _ = r.SetTyping("c1", false)
	assert.True(t, changed)

	_, changed, _ = r.SetTyping("c2", true)
	assert.False(t, changed, "no room, nothing to type in")

	_, _, err = r.SetTyping("missing", true)
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRegistry_ConcurrentConsistency(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			room := fmt.Sprintf("s%d", i%3)
			_ = r.Register(conn, fmt.Sprintf("u%d", i), room, Info{})
			_, _, _ = r.SetTyping(conn, true)
			_, _ = r.Move(conn, fmt.Sprintf("s%d", (i+1)%3))
			if i%2 == 0 {
				r.Deregister(conn)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 3; i++ {
		for _, m := range r.Members(fmt.Sprintf("s%d", i)) {
			got, ok := r.Lookup(m.ConnID)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("s%d", i), got.SessionID)
			total++
		}
	}
	assert.Equal(t, 25, total)
	assert.Equal(t, 25, r.Stats().Connections)
}

func TestDeferredLeaves_Fires(t *testing.T) {
	d := NewDeferredLeaves(10 * time.Millisecond)
	defer d.Close()

	fired := make(chan struct{})
	d.Schedule("s1", "ana", func() { close(fired) })
	assert.True(t, d.Pending("s1", "ana"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deferred leave did not fire")
	}
	assert.Eventually(t, func() bool { return !d.Pending("s1", "ana") }, time.Second, 5*time.Millisecond)
}

func TestDeferredLeaves_CancelPreventsCallback(t *testing.T) {
	d := NewDeferredLeaves(20 * time.Millisecond)

	var calls atomic.Int32
	d.Schedule("s1", "ana", func() { calls.Add(1) })
	assert.True(t, d.Cancel("s1", "ana"))
	assert.False(t, d.Cancel("s1", "ana"))

	time.Sleep(50 * time.Millisecond)
	d.Close()
	assert.Equal(t, int32(0), calls.Load())
}

func TestDeferredLeaves_RescheduleReplaces(t *testing.T) {
	d := NewDeferredLeaves(20 * time.Millisecond)

	var first, second atomic.Int32
	d.Schedule("s1", "ana", func() { first.Add(1) })
	d.Schedule("s1", "ana", func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	d.Close()
	assert.Equal(t, int32(0), first.Load())
}

func TestDeferredLeaves_CloseDropsPending(t *testing.T) {
	d := NewDeferredLeaves(time.Hour)

	var calls atomic.Int32
	d.Schedule("s1", "ana", func() { calls.Add(1) })
	d.Schedule("s2", "bob", func() { calls.Add(1) })
	d.Close()

	d.Schedule("s3", "carol", func() { calls.Add(1) })
	assert.False(t, d.Pending("s3", "carol"))
	assert.Equal(t, int32(0), calls.Load())
}
