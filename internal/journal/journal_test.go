package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "lobbies")

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(Entry{At: at, Event: "open", Lobby: "abc"}))
	require.NoError(t, w.Write(Entry{At: at, Event: "join", Lobby: "abc", User: 1, Users: 1}))
	require.NoError(t, w.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "lobbies-*.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	var entries []Entry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	require.Len(t, entries, 2)
	assert.Equal(t, "open", entries[0].Event)
	assert.Equal(t, "join", entries[1].Event)
	assert.Equal(t, uint64(1), entries[1].User)
}

func TestNilWriterIsInert(t *testing.T) {
	var w *Writer
	assert.NoError(t, w.Write(Entry{Event: "open"}))
	assert.NoError(t, w.Close())
}
