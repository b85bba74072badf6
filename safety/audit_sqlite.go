package safety

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

var ErrAuditClosed = errors.New("audit store closed")

// SQLiteAuditStore persists safety events. Writes are queued to a single
// writer goroutine so the manager never waits on disk.
type SQLiteAuditStore struct {
	db *sql.DB

	mu   sync.RWMutex // guards sends against close(ch)
	ch   chan auditReq
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

type auditReq struct {
	ev   Event
	done chan struct{} // flush marker when non-nil
}

func OpenSQLiteAudit(path string) (*SQLiteAuditStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty audit db path")
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

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS safety_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			ts_unix_ms INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			threat_level INTEGER NOT NULL,
			message TEXT NOT NULL,
			details_json TEXT NOT NULL,
			action_taken TEXT NOT NULL DEFAULT '',
			resolved INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS safety_events_session ON safety_events(session_id, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init audit schema: %w", err)
		}
	}

	s := &SQLiteAuditStore{db: db, ch: make(chan auditReq, 4096)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

// WriteEvent queues ev. A full queue drops the event rather than block.
func (s *SQLiteAuditStore) WriteEvent(ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return ErrAuditClosed
	}
	select {
	case s.ch <- auditReq{ev: ev}:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("audit queue full, event %s dropped", ev.Type)
	}
}

// Flush waits until every event queued before the call is written.
func (s *SQLiteAuditStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return ErrAuditClosed
	}
	done := make(chan struct{})
	select {
	case s.ch <- auditReq{done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped counts events lost to a full queue.
func (s *SQLiteAuditStore) Dropped() int64 { return s.dropped.Load() }

func (s *SQLiteAuditStore) loop() {
	for r := range s.ch {
		if r.done != nil {
			close(r.done)
			continue
		}
		if err := s.insert(r.ev); err != nil {
			slog.Warn("audit insert failed", "event", r.ev.Type, "error", err)
		}
	}
}

func (s *SQLiteAuditStore) insert(ev Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return err
	}
	resolved := 0
	if ev.Resolved {
		resolved = 1
	}
	_, err = s.db.Exec(`INSERT INTO safety_events
		(session_id, ts_unix_ms, event_type, threat_level, message, details_json, action_taken, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Timestamp.UnixMilli(), ev.Type, int(ev.Threat), ev.Message, string(details), ev.ActionTaken, resolved)
	return err
}

// Events returns up to limit events, oldest first. An empty sessionID
// matches every session.
func (s *SQLiteAuditStore) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, ts_unix_ms, event_type, threat_level, message, details_json, action_taken, resolved
		FROM safety_events WHERE (? = '' OR session_id = ?) ORDER BY id LIMIT ?`, sessionID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev       Event
			ms       int64
			threat   int
			details  string
			resolved int
		)
		if err := rows.Scan(&ev.SessionID, &ms, &ev.Type, &threat, &ev.Message, &details, &ev.ActionTaken, &resolved); err != nil {
			return nil, err
		}
		ev.Timestamp = time.UnixMilli(ms).UTC()
		ev.Threat = ThreatLevel(threat)
		ev.Resolved = resolved != 0
		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, fmt.Errorf("decode details of %s: %w", ev.Type, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteAuditStore) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
