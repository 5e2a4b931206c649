package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store, ttl), store
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	require.NoError(t, m.Save("w1", "sess-abc"))

	handle, found, err := m.Get("w1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sess-abc", handle)
}

func TestGetAbsentSession(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	_, found, err := m.Get("nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExpiredSessionDiscarded(t *testing.T) {
	m, store := newTestManager(t, time.Hour)

	require.NoError(t, m.Save("w1", "sess-abc"))
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, found, err := m.Get("w1")
	require.NoError(t, err)
	assert.False(t, found)

	// The expired record is physically gone, not just hidden
	_, err = store.GetSession("w1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveSlidesExpiry(t *testing.T) {
	m, store := newTestManager(t, time.Hour)

	base := time.Now()
	m.now = func() time.Time { return base }
	require.NoError(t, m.Save("w1", "sess-abc"))

	first, err := store.GetSession("w1")
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(30 * time.Minute) }
	require.NoError(t, m.Save("w1", "sess-abc"))

	second, err := store.GetSession("w1")
	require.NoError(t, err)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	// Still reachable past the original deadline because the window slid
	m.now = func() time.Time { return base.Add(80 * time.Minute) }
	_, found, err := m.Get("w1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestGetOrCreateMintsWithoutPersisting(t *testing.T) {
	m, store := newTestManager(t, time.Hour)

	handle, found, err := m.GetOrCreate("w1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotEmpty(t, handle)

	// Minting must not write anything; only a confirmed exchange does
	_, err = store.GetSession("w1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	again, found, err := m.GetOrCreate("w1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotEqual(t, handle, again)
}

func TestGetOrCreateReturnsStoredHandle(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	require.NoError(t, m.Save("w1", "sess-abc"))

	handle, found, err := m.GetOrCreate("w1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sess-abc", handle)
}

func TestSaveRejectsEmptyHandle(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)
	assert.Error(t, m.Save("w1", ""))
}

func TestDeleteIdempotent(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	require.NoError(t, m.Save("w1", "sess-abc"))
	require.NoError(t, m.Delete("w1"))
	require.NoError(t, m.Delete("w1"))

	_, found, err := m.Get("w1")
	require.NoError(t, err)
	assert.False(t, found)
}
