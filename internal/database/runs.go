package database

import (
	"database/sql"
	"time"
)

// RunReport is the stored outcome of generating one content unit.
type RunReport struct {
	ID           int64
	RunID        string
	Unit         string
	Topic        string
	Status       string // "ok" or "failed"
	Provider     *string
	Title        *string
	ErrorKind    *string
	ErrorMessage *string
	Attempts     int
	Duration     time.Duration
	CreatedAt    *string
}

// InsertRunReport stores one unit outcome.
func (db *DB) InsertRunReport(r RunReport) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO run_reports
		(run_id, unit, topic, status, provider, title, error_kind, error_message, attempts, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Unit, r.Topic, r.Status, r.Provider, r.Title, r.ErrorKind, r.ErrorMessage,
		r.Attempts, r.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRecentRunReports returns the newest reports first.
func (db *DB) GetRecentRunReports(limit int) ([]RunReport, error) {
	rows, err := db.conn.Query(
		`SELECT id, run_id, unit, topic, status, provider, title, error_kind, error_message,
		attempts, duration_ms, created_at
		FROM run_reports ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []RunReport
	for rows.Next() {
		var r RunReport
		var topic sql.NullString
		var ms int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Unit, &topic, &r.Status, &r.Provider, &r.Title,
			&r.ErrorKind, &r.ErrorMessage, &r.Attempts, &ms, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Topic = topic.String
		r.Duration = time.Duration(ms) * time.Millisecond
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// CountRunReports returns (ok, failed) totals.
func (db *DB) CountRunReports() (ok, failed int, err error) {
	err = db.conn.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM run_reports`,
	).Scan(&ok, &failed)
	return ok, failed, err
}
