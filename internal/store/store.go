// Package store implements the Message Store: a sqlite-backed
// transactional archive of one or more rooms' reply-trees, their
// known-contiguous Id spans, seen bits, and per-server cookie blobs.
// It also implements the Store Query Surface by satisfying
// forest.QuerySurface.
//
// Migrations are an ordered []string of statements, applied at most
// once each and tracked in a schema_migrations table. Append, never
// edit or reorder.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"cove/internal/forest"
	"cove/internal/protocol"
)

// MsgID is the forest Id type this store is keyed on.
type MsgID = protocol.MsgID

// TailID is the span sentinel meaning "up to the live tail". It is
// never written to the database literally; see tailSentinel.
const TailID MsgID = math.MaxUint64

// tailSentinel is how TailID is represented in the signed 64-bit `hi`
// column; message Ids are always >= 1 so -1 is unambiguous.
const tailSentinel int64 = -1

func hiToDB(hi MsgID) int64 {
	if hi == TailID {
		return tailSentinel
	}
	return int64(hi)
}

func hiFromDB(v int64) MsgID {
	if v == tailSentinel {
		return TailID
	}
	return MsgID(v)
}

// Span is a closed, inclusive Id interval the archive has complete
// knowledge of.
type Span struct {
	Lo, Hi MsgID
}

var migrations = []string{
	// v1 — messages, keyed per room
	`CREATE TABLE IF NOT EXISTS messages (
		room        TEXT NOT NULL,
		id          INTEGER NOT NULL,
		parent      INTEGER NOT NULL DEFAULT 0,
		has_parent  INTEGER NOT NULL DEFAULT 0,
		sender_id   TEXT NOT NULL,
		sender_name TEXT NOT NULL,
		time        INTEGER NOT NULL,
		content     TEXT NOT NULL,
		seen        INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(room, id)
	)`,
	// v2 — child lookups for tree materialization
	`CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(room, has_parent, parent, id)`,
	// v3, v4 — known-contiguous spans per room, and their lookup index
	`CREATE TABLE IF NOT EXISTS spans (
		room TEXT NOT NULL,
		lo   INTEGER NOT NULL,
		hi   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_room ON spans(room, lo)`,
	// v5 — per-server cookie blob
	`CREATE TABLE IF NOT EXISTS cookies (
		server TEXT PRIMARY KEY,
		blob   BLOB NOT NULL
	)`,
	// v6 — unseen-count lookups
	`CREATE INDEX IF NOT EXISTS idx_messages_unseen ON messages(room, seen, id)`,
	// v7 — concurrent readers
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a sqlite database and implements the Message Store and
// Store Query Surface. It is safe for concurrent use by multiple
// callers; internal/vault serializes writes through it from a single
// worker goroutine, but Store itself does not assume a single caller.
type Store struct {
	db     *sql.DB
	events chan string
}

// Open opens (or creates) the sqlite database at path and applies any
// pending migrations. Use ":memory:" for an ephemeral in-process store
// (tests, and the ephemeral vault mode).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("store: busy_timeout pragma failed", "error", err)
	}

	s := &Store{db: db, events: make(chan string, 64)}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	slog.Info("store opened", "path", path)
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Debug("store migration applied", "version", v)
	}
	return nil
}

// Events yields a room name each time that room's persisted contents
// change, so that UI views can re-query. Sends are non-blocking; a
// slow consumer misses coalescing opportunities, not correctness,
// since it can always re-query current state.
func (s *Store) Events() <-chan string {
	return s.events
}

func (s *Store) notify(room string) {
	select {
	case s.events <- room:
	default:
	}
}

// timed logs queries slower than 1ms without retrying them.
func timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if d := time.Since(start); d > time.Millisecond {
		slog.Warn("store: slow query", "op", op, "duration", d)
	}
	return err
}

// --- writes ---

// AddMsgs inserts zero or more messages and unions span into the room's
// known span set, merging anything it touches or overlaps. Idempotent:
// re-inserting an already-known Id is a no-op.
func (s *Store) AddMsgs(ctx context.Context, room string, msgs []protocol.Message, span Span) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add_msgs: begin: %w", err)
	}
	defer tx.Rollback()

	const insertQ = `INSERT INTO messages (room, id, parent, has_parent, sender_id, sender_name, time, content, seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(room, id) DO NOTHING`
	for _, m := range msgs {
		var parent int64
		var hasParent int
		if m.Parent != nil {
			parent = int64(*m.Parent)
			hasParent = 1
		}
		if _, err := tx.ExecContext(ctx, insertQ, room, int64(m.ID), parent, hasParent, m.Sender.ID, m.Sender.Name, m.Time, m.Content); err != nil {
			return fmt.Errorf("add_msgs: insert %d: %w", m.ID, err)
		}
	}

	if err := s.mergeSpanTx(ctx, tx, room, span); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add_msgs: commit: %w", err)
	}
	s.notify(room)
	return nil
}

// AddMessage persists a single server-confirmed message, the shape
// euph.Room needs when it echoes a Send reply or a send-event
// notification.
func (s *Store) AddMessage(ctx context.Context, room string, msg protocol.Message) error {
	return s.AddMsgs(ctx, room, []protocol.Message{msg}, Span{Lo: msg.ID, Hi: msg.ID})
}

func (s *Store) mergeSpanTx(ctx context.Context, tx *sql.Tx, room string, span Span) error {
	rows, err := tx.QueryContext(ctx, `SELECT lo, hi FROM spans WHERE room = ? ORDER BY lo`, room)
	if err != nil {
		return fmt.Errorf("add_msgs: read spans: %w", err)
	}
	var spans []Span
	for rows.Next() {
		var lo, hiDB int64
		if err := rows.Scan(&lo, &hiDB); err != nil {
			rows.Close()
			return fmt.Errorf("add_msgs: scan span: %w", err)
		}
		spans = append(spans, Span{Lo: MsgID(lo), Hi: hiFromDB(hiDB)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	merged := mergeSpans(append(spans, span))

	if _, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE room = ?`, room); err != nil {
		return fmt.Errorf("add_msgs: clear spans: %w", err)
	}
	for _, sp := range merged {
		if _, err := tx.ExecContext(ctx, `INSERT INTO spans (room, lo, hi) VALUES (?, ?, ?)`, room, int64(sp.Lo), hiToDB(sp.Hi)); err != nil {
			return fmt.Errorf("add_msgs: insert span: %w", err)
		}
	}
	return nil
}

// mergeSpans unions a set of spans, merging any that touch or overlap
// (endpoints inclusive).
func mergeSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lo < sorted[j].Lo })

	out := []Span{sorted[0]}
	for _, sp := range sorted[1:] {
		last := &out[len(out)-1]
		if spanTouches(*last, sp) {
			if last.Hi == TailID || sp.Hi == TailID {
				last.Hi = TailID
			} else if sp.Hi > last.Hi {
				last.Hi = sp.Hi
			}
		} else {
			out = append(out, sp)
		}
	}
	return out
}

func spanTouches(a, b Span) bool {
	if a.Hi == TailID {
		return true
	}
	return b.Lo <= a.Hi+1
}

// Delete removes a room's messages, spans and seen bits in one
// transaction.
func (s *Store) Delete(ctx context.Context, room string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room = ?`, room); err != nil {
		return fmt.Errorf("delete: messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE room = ?`, room); err != nil {
		return fmt.Errorf("delete: spans: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete: commit: %w", err)
	}
	s.notify(room)
	return nil
}

// SetSeen updates one message's seen bit.
func (s *Store) SetSeen(ctx context.Context, room string, id MsgID, seen bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET seen = ? WHERE room = ? AND id = ?`, boolToInt(seen), room, int64(id)); err != nil {
		return fmt.Errorf("set_seen: %w", err)
	}
	s.notify(room)
	return nil
}

// SetOlderSeen updates the seen bit for every message with Id <= id in
// one transaction.
func (s *Store) SetOlderSeen(ctx context.Context, room string, id MsgID, seen bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set_older_seen: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET seen = ? WHERE room = ? AND id <= ?`, boolToInt(seen), room, int64(id)); err != nil {
		return fmt.Errorf("set_older_seen: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set_older_seen: commit: %w", err)
	}
	s.notify(room)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- lifecycle / cookies / gc ---

// Cookies returns the opaque auth blob stored for server.
func (s *Store) Cookies(ctx context.Context, server string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM cookies WHERE server = ?`, server).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cookies: %w", err)
	}
	return blob, true, nil
}

// SetCookies upserts the opaque auth blob for server.
func (s *Store) SetCookies(ctx context.Context, server string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cookies (server, blob) VALUES (?, ?)
		ON CONFLICT(server) DO UPDATE SET blob = excluded.blob`, server, blob)
	if err != nil {
		return fmt.Errorf("set_cookies: %w", err)
	}
	return nil
}

// Optimize runs the lightweight query-planner-statistics pragma,
// suitable for a close-time cleanup where a full vacuum would be
// wasteful.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

// Compact analyzes and vacuums the database. Not called on any hot path.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("compact: analyze: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("compact: vacuum: %w", err)
	}
	slog.Info("store compacted")
	return nil
}

// Backup copies the database to destPath via sqlite's VACUUM INTO.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}
