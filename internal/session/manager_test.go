package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMaterializesDirectories(t *testing.T) {
	m := NewManager(t.TempDir())

	s, err := m.Create("widget", "station-7")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "widget", s.ProductID)
	assert.DirExists(t, s.InputDir())
	assert.DirExists(t, s.OutputDir())
	assert.Equal(t, 1, m.Count())
}

func TestGetReturnsActiveSessionsOnly(t *testing.T) {
	m := NewManager(t.TempDir())
	s, err := m.Create("widget", "")
	require.NoError(t, err)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = m.Get("nonexistent")
	assert.ErrorIs(t, err, ErrSessionUnknown)
}

func TestDestroyRemovesSessionAndDirectory(t *testing.T) {
	m := NewManager(t.TempDir())
	s, err := m.Create("widget", "")
	require.NoError(t, err)

	require.NoError(t, m.Destroy(s.ID))
	assert.NoDirExists(t, s.Dir())
	assert.Equal(t, 0, m.Count())

	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionUnknown)
	assert.ErrorIs(t, m.Destroy(s.ID), ErrSessionUnknown)
}

func TestReapRemovesIdleSessions(t *testing.T) {
	m := NewManager(t.TempDir())
	s, err := m.Create("widget", "")
	require.NoError(t, err)

	// A zero TTL makes every idle session stale immediately.
	time.Sleep(10 * time.Millisecond)
	removed := m.Reap(time.Nanosecond)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, s.Dir())
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionUnknown)
}

func TestReapSkipsBusySessions(t *testing.T) {
	m := NewManager(t.TempDir())
	s, err := m.Create("widget", "")
	require.NoError(t, err)

	s.Acquire()
	defer s.Release()

	time.Sleep(10 * time.Millisecond)
	removed := m.Reap(time.Nanosecond)
	assert.Equal(t, 0, removed)
	assert.DirExists(t, s.Dir())
}

func TestReapSweepsOrphanDirectories(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	orphan := filepath.Join(root, "sessions", "stale-orphan")
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	removed := m.Reap(time.Hour)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, orphan)
}

func TestSessionCountCallback(t *testing.T) {
	m := NewManager(t.TempDir())
	var last int
	m.OnCountChange(func(n int) { last = n })

	s, err := m.Create("widget", "")
	require.NoError(t, err)
	assert.Equal(t, 1, last)

	require.NoError(t, m.Destroy(s.ID))
	assert.Equal(t, 0, last)
}
