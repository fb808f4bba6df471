package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)

	// freshly migrated store is queryable and empty
	trs, err := s.RecentTransitions(10)
	require.NoError(t, err)
	assert.Empty(t, trs)

	crs, err := s.RecentCommands(10)
	require.NoError(t, err)
	assert.Empty(t, crs)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.RecordTransition("connected", ""))
	require.NoError(t, s1.Close())

	// reopening an already-migrated database must not fail or lose rows
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	trs, err := s2.RecentTransitions(10)
	require.NoError(t, err)
	assert.Len(t, trs, 1)
}

func TestTransitionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	states := []string{"connecting", "connected", "retrying", "failed"}
	for _, st := range states {
		require.NoError(t, s.RecordTransition(st, "detail for "+st))
	}

	trs, err := s.RecentTransitions(10)
	require.NoError(t, err)
	require.Len(t, trs, len(states))

	// newest first
	assert.Equal(t, "failed", trs[0].State)
	assert.Equal(t, "connecting", trs[len(trs)-1].State)
	assert.Equal(t, "detail for failed", trs[0].Detail)
	assert.False(t, trs[0].At.IsZero())

	limited, err := s.RecentTransitions(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCommandRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordCommand(1, "move", "move x=10 y=20", 12))
	require.NoError(t, s.RecordCommand(2, "home", "home", 12))

	crs, err := s.RecentCommands(10)
	require.NoError(t, err)
	require.Len(t, crs, 2)

	assert.Equal(t, int64(2), crs[0].Seq)
	assert.Equal(t, "home", crs[0].Kind)
	assert.Equal(t, "move x=10 y=20", crs[1].Text)
	assert.Equal(t, int64(12), crs[1].Bytes)
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	assert.NoError(t, s.RecordTransition("connected", ""))
	assert.NoError(t, s.RecordCommand(1, "home", "home", 12))
	assert.NoError(t, s.Close())

	trs, err := s.RecentTransitions(5)
	assert.NoError(t, err)
	assert.Nil(t, trs)
}
