package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playmesh-dev/playmesh/go/internal/state"
)

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore(logr.Discard())

	initial := state.NewGameState()
	initial.Set("stats", "health", state.Number(100))

	info := store.Create("player-1", "alice", "device-1", initial)
	require.NotEmpty(t, info.ID)
	assert.Equal(t, "player-1", info.PlayerID)
	assert.Equal(t, "alice", info.Username)
	assert.True(t, info.ExpiresAt.After(time.Now()))

	got, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	snap, err := store.Snapshot(info.ID)
	require.NoError(t, err)
	v, ok := snap.Get("stats", "health")
	require.True(t, ok)
	assert.Equal(t, float64(100), v.NumberVal())
}

func TestStoreGetUnknownSession(t *testing.T) {
	store := NewStore(logr.Discard())

	_, err := store.Get("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Snapshot("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoreCreateDeepCopiesInitialState(t *testing.T) {
	store := NewStore(logr.Discard())

	initial := state.NewGameState()
	initial.Set("stats", "health", state.Number(100))
	info := store.Create("player-1", "alice", "device-1", initial)

	// Mutating the caller's copy must not leak into stored state.
	initial.Set("stats", "health", state.Number(1))

	snap, err := store.Snapshot(info.ID)
	require.NoError(t, err)
	v, ok := snap.Get("stats", "health")
	require.True(t, ok)
	assert.Equal(t, float64(100), v.NumberVal())
}

func TestStoreSnapshotIsolation(t *testing.T) {
	store := NewStore(logr.Discard())
	info := store.Create("player-1", "alice", "device-1", nil)

	snap, err := store.Snapshot(info.ID)
	require.NoError(t, err)
	snap.Set("stats", "health", state.Number(5))

	again, err := store.Snapshot(info.ID)
	require.NoError(t, err)
	_, ok := again.Get("stats", "health")
	assert.False(t, ok, "snapshot mutation must not reach stored state")
}

func TestStoreJoinRebindsDeviceAndExtendsLease(t *testing.T) {
	store := NewStore(logr.Discard(), WithLease(time.Hour))
	info := store.Create("player-1", "alice", "device-1", nil)

	joined, err := store.Join(info.ID, "device-2")
	require.NoError(t, err)
	assert.Equal(t, "device-2", joined.DeviceID)
	assert.False(t, joined.ExpiresAt.Before(info.ExpiresAt))

	_, err = store.Join("no-such-session", "device-2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoreExpiredSessionBehavesAsMissing(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	store := NewStore(logr.Discard(),
		WithLease(time.Minute),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		}),
	)

	info := store.Create("player-1", "alice", "device-1", nil)

	mu.Lock()
	clock = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err := store.Get(info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Snapshot(info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.ApplyUpdates(info.ID, nil)
	assert.ErrorIs(t, err, ErrSessionConflict)
}

func TestStoreApplyUpdates(t *testing.T) {
	store := NewStore(logr.Discard())
	info := store.Create("player-1", "alice", "device-1", nil)

	next, err := store.ApplyUpdates(info.ID, []state.EntityAttributeUpdate{
		{EntityID: "player:1", Category: "stats", Attribute: "health", Value: state.Number(90)},
		{EntityID: "player:1", Category: "stats", Attribute: "mana", Value: state.Number(40)},
	})
	require.NoError(t, err)

	v, ok := next.Get("stats", "health")
	require.True(t, ok)
	assert.Equal(t, float64(90), v.NumberVal())

	snap, err := store.Snapshot(info.ID)
	require.NoError(t, err)
	v, ok = snap.Get("stats", "mana")
	require.True(t, ok)
	assert.Equal(t, float64(40), v.NumberVal())
}

func TestStoreApplyUpdatesAfterRemoveConflicts(t *testing.T) {
	store := NewStore(logr.Discard())
	info := store.Create("player-1", "alice", "device-1", nil)
	store.Remove(info.ID)

	_, err := store.ApplyUpdates(info.ID, []state.EntityAttributeUpdate{
		{EntityID: "player:1", Category: "stats", Attribute: "health", Value: state.Number(90)},
	})
	assert.ErrorIs(t, err, ErrSessionConflict)
}

func TestStoreApplyUpdatesExtendsLease(t *testing.T) {
	store := NewStore(logr.Discard(), WithLease(time.Hour))
	info := store.Create("player-1", "alice", "device-1", nil)

	_, err := store.ApplyUpdates(info.ID, nil)
	require.NoError(t, err)

	got, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.False(t, got.ExpiresAt.Before(info.ExpiresAt))
}

func TestStoreConcurrentApplyUpdatesSerialized(t *testing.T) {
	store := NewStore(logr.Discard())
	info := store.Create("player-1", "alice", "device-1", nil)

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				attr := fmt.Sprintf("w%d-i%d", w, i)
				_, err := store.ApplyUpdates(info.ID, []state.EntityAttributeUpdate{
					{EntityID: "player:1", Category: "log", Attribute: attr, Value: state.Bool(true)},
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	snap, err := store.Snapshot(info.ID)
	require.NoError(t, err)
	assert.Len(t, snap["log"], workers*perWorker)
}

func TestStoreSweepRemovesExpired(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	store := NewStore(logr.Discard(),
		WithLease(time.Minute),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		}),
	)

	expired := store.Create("player-1", "alice", "device-1", nil)

	mu.Lock()
	clock = now.Add(30 * time.Second)
	mu.Unlock()
	live := store.Create("player-2", "bob", "device-2", nil)

	mu.Lock()
	clock = now.Add(90 * time.Second)
	mu.Unlock()

	removed := store.sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	_, err := store.Get(expired.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(live.ID)
	assert.NoError(t, err)
}
