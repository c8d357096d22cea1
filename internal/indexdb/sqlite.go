// Package indexdb keeps an operator-facing SQLite index of lobby sessions:
// when each lobby opened and closed, its peak user count and total joins.
// Writes go through a single buffered writer goroutine so the hot path never
// blocks on disk; under pressure writes are dropped, the index is a secondary
// record, never a source of truth for live state.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Session is one lobby's lifetime record. ClosedAt is empty while open.
type Session struct {
	ID        string
	Name      string
	OpenedAt  string
	ClosedAt  string
	PeakUsers int
	Joins     int
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqOpened reqKind = iota + 1
	reqClosed
)

type req struct {
	kind    reqKind
	session Session
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style workload; NORMAL durability is fine for a
	// secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			opened_at TEXT NOT NULL,
			closed_at TEXT,
			peak_users INTEGER NOT NULL DEFAULT 0,
			joins INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_opened ON sessions(opened_at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// SessionOpened records a lobby coming to life. The id must be unique per
// session (the manager derives it from name + open time).
func (s *SQLiteIndex) SessionOpened(id, name string, at time.Time) {
	if s == nil || s.closed.Load() {
		return
	}
	r := req{kind: reqOpened, session: Session{
		ID:       id,
		Name:     name,
		OpenedAt: at.UTC().Format(time.RFC3339Nano),
	}}
	select {
	case s.ch <- r:
	default:
	}
}

// SessionClosed finalizes a session row with its stats.
func (s *SQLiteIndex) SessionClosed(id string, at time.Time, peakUsers, joins int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := req{kind: reqClosed, session: Session{
		ID:        id,
		ClosedAt:  at.UTC().Format(time.RFC3339Nano),
		PeakUsers: peakUsers,
		Joins:     joins,
	}}
	select {
	case s.ch <- r:
	default:
	}
}

// RecentSessions reads the newest sessions for the dashboard. Synchronous;
// safe alongside the writer because SQLite WAL allows one reader.
func (s *SQLiteIndex) RecentSessions(limit int) ([]Session, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, name, opened_at, COALESCE(closed_at,''), peak_users, joins
		 FROM sessions ORDER BY opened_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var r Session
		if err := rows.Scan(&r.ID, &r.Name, &r.OpenedAt, &r.ClosedAt, &r.PeakUsers, &r.Joins); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	insertOpen, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(id,name,opened_at) VALUES(?,?,?)`)
	updateClose, _ := s.db.Prepare(`UPDATE sessions SET closed_at=?, peak_users=?, joins=? WHERE id=?`)
	defer func() {
		if insertOpen != nil {
			_ = insertOpen.Close()
		}
		if updateClose != nil {
			_ = updateClose.Close()
		}
	}()

	for r := range s.ch {
		switch r.kind {
		case reqOpened:
			if insertOpen == nil {
				continue
			}
			if _, err := insertOpen.Exec(r.session.ID, r.session.Name, r.session.OpenedAt); err != nil {
				continue
			}
		case reqClosed:
			if updateClose == nil {
				continue
			}
			if _, err := updateClose.Exec(r.session.ClosedAt, r.session.PeakUsers, r.session.Joins, r.session.ID); err != nil {
				continue
			}
		}
	}
}
