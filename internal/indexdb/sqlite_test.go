package indexdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)

	opened := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.SessionOpened("abc-1", "abc", opened)
	s.SessionClosed("abc-1", opened.Add(time.Hour), 4, 7)
	require.NoError(t, s.Close(), "close drains the write queue")

	// Reopen to read back what the writer persisted.
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.RecentSessions(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, "abc-1", r.ID)
	assert.Equal(t, "abc", r.Name)
	assert.Equal(t, opened.Format(time.RFC3339Nano), r.OpenedAt)
	assert.NotEmpty(t, r.ClosedAt)
	assert.Equal(t, 4, r.PeakUsers)
	assert.Equal(t, 7, r.Joins)
}

func TestRecentSessionsOrderAndLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.SessionOpened("id-"+string(rune('a'+i)), "lobby", base.Add(time.Duration(i)*time.Minute))
	}
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.RecentSessions(3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id-e", rows[0].ID, "newest first")
}

func TestNilIndexIsInert(t *testing.T) {
	var s *SQLiteIndex
	s.SessionOpened("x", "y", time.Now())
	s.SessionClosed("x", time.Now(), 0, 0)
	rows, err := s.RecentSessions(5)
	assert.NoError(t, err)
	assert.Nil(t, rows)
}
