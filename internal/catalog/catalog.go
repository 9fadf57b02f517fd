// Package catalog maintains a SQLite-backed index of sessions (id,
// title, start/end time, transcriber/summarizer backend names) so the
// shell can list or resolve "the active session" without scanning the
// flat-file store directory. It is supplementary: the flat-file store
// (internal/store) remains the source of truth for session content.
//
// Grounded on jwulff-steno/tui/internal/db/{models.go,store.go} (Store,
// Session, modernc.org/sqlite DSN usage, timeFromUnix), adapted from
// read-only WAL access to a read-write catalog since this system writes
// new sessions rather than only reading one populated elsewhere.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Session is one row of the session index.
type Session struct {
	ID          string
	Title       string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string
	Transcriber string
	Summarizer  string
}

// Catalog owns a read-write SQLite connection to the session index.
type Catalog struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	started_at   REAL NOT NULL,
	ended_at     REAL,
	status       TEXT NOT NULL,
	transcriber  TEXT NOT NULL DEFAULT '',
	summarizer   TEXT NOT NULL DEFAULT ''
);
`

// Open opens (creating if necessary) the SQLite database at path in
// read-write WAL mode and ensures the schema exists.
func Open(path string) (*Catalog, error) {
	dsn := fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error { return c.db.Close() }

// InsertSession records a newly started session as active.
func (c *Catalog) InsertSession(sess Session) error {
	_, err := c.db.Exec(`
		INSERT INTO sessions (id, title, started_at, status, transcriber, summarizer)
		VALUES (?, ?, ?, 'active', ?, ?)
	`, sess.ID, sess.Title, unixSeconds(sess.StartedAt), sess.Transcriber, sess.Summarizer)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinalizeSession marks a session ended and records its end time.
func (c *Catalog) FinalizeSession(id string, endedAt time.Time) error {
	_, err := c.db.Exec(`
		UPDATE sessions SET status = 'finalized', ended_at = ? WHERE id = ?
	`, unixSeconds(endedAt), id)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	return nil
}

// ActiveSession returns the most recently started session still marked
// active, or nil if none.
func (c *Catalog) ActiveSession() (*Session, error) {
	row := c.db.QueryRow(`
		SELECT id, title, started_at, ended_at, status, transcriber, summarizer
		FROM sessions WHERE status = 'active' ORDER BY started_at DESC LIMIT 1
	`)
	return scanSession(row)
}

// ListSessions returns every session, most recently started first.
func (c *Catalog) ListSessions() ([]Session, error) {
	rows, err := c.db.Query(`
		SELECT id, title, started_at, ended_at, status, transcriber, summarizer
		FROM sessions ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*Session, error) {
	sess, err := scanSessionCommon(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

func scanSessionRows(rows *sql.Rows) (Session, error) {
	sess, err := scanSessionCommon(rows)
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

func scanSessionCommon(s scanner) (Session, error) {
	var sess Session
	var startedAt float64
	var endedAt sql.NullFloat64

	if err := s.Scan(&sess.ID, &sess.Title, &startedAt, &endedAt, &sess.Status, &sess.Transcriber, &sess.Summarizer); err != nil {
		return Session{}, err
	}
	sess.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	return sess, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
