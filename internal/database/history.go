package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/TobiSchelling/contentforge/internal/history"
)

// HistoryBackend persists the history window in SQLite. The version counter
// lives in history_meta and is checked inside the write transaction.
type HistoryBackend struct {
	db *DB
}

// History returns the history backend for this database. Closing the
// backend does not close the database.
func (db *DB) History() *HistoryBackend {
	return &HistoryBackend{db: db}
}

func (h *HistoryBackend) Load(ctx context.Context) (history.Snapshot, error) {
	// One transaction so records and version come from the same snapshot.
	tx, err := h.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return history.Snapshot{}, fmt.Errorf("begin history read: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT title, title_normalized, content_hash, topic, excerpt, snippet, unit, created_at
		FROM history_records ORDER BY id`,
	)
	if err != nil {
		return history.Snapshot{}, err
	}
	defer rows.Close()

	var snap history.Snapshot
	for rows.Next() {
		var r history.Record
		var topic, excerpt, snippet, unit sql.NullString
		var created string
		if err := rows.Scan(&r.Title, &r.TitleNormalized, &r.ContentHash,
			&topic, &excerpt, &snippet, &unit, &created); err != nil {
			return history.Snapshot{}, err
		}
		r.Topic, r.Excerpt, r.Snippet, r.Unit = topic.String, excerpt.String, snippet.String, unit.String
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return history.Snapshot{}, fmt.Errorf("parsing created_at %q: %w", created, err)
		}
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return history.Snapshot{}, err
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT value FROM history_meta WHERE key = 'version'",
	).Scan(&snap.Version); err != nil {
		return history.Snapshot{}, fmt.Errorf("reading history version: %w", err)
	}
	return snap, nil
}

func (h *HistoryBackend) Append(ctx context.Context, rec history.Record, capacity int, expect int64) (int64, error) {
	var version int64
	err := h.withVersion(ctx, expect, func(tx *sql.Tx) error {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		if capacity > 0 {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM history_records WHERE id NOT IN (
					SELECT id FROM history_records ORDER BY id DESC LIMIT ?
				)`, capacity,
			)
			return err
		}
		return nil
	}, &version)
	return version, err
}

func (h *HistoryBackend) Replace(ctx context.Context, records []history.Record, expect int64) (int64, error) {
	var version int64
	err := h.withVersion(ctx, expect, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM history_records"); err != nil {
			return err
		}
		for _, r := range records {
			if err := insertRecord(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	}, &version)
	return version, err
}

func (h *HistoryBackend) Close() error { return nil }

// withVersion runs fn in a transaction that only commits if the stored
// version equals expect, and bumps the version.
func (h *HistoryBackend) withVersion(ctx context.Context, expect int64, fn func(tx *sql.Tx) error, version *int64) error {
	tx, err := h.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history write: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE history_meta SET value = value + 1 WHERE key = 'version' AND value = ?", expect,
	)
	if err != nil {
		return fmt.Errorf("bumping history version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("write at version %d: %w", expect, history.ErrConflict)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history write: %w", err)
	}
	*version = expect + 1
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, r history.Record) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO history_records
		(title, title_normalized, content_hash, topic, excerpt, snippet, unit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Title, r.TitleNormalized, r.ContentHash, r.Topic, r.Excerpt, r.Snippet, r.Unit,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}
