// Package journal persists received update payloads to sqlite so a watcher
// can inspect what a flaky endpoint actually delivered.
package journal

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type Entry struct {
	ID           int64
	Source       string
	ReceivedAtMs int64
	Payload      string
}

type Journal struct {
	db *sql.DB
}

func New(dsn string) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("journal: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate() error {
	if j == nil || j.db == nil {
		return errors.New("journal: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			received_at_ms INTEGER NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS updates_by_source ON updates(source, received_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := j.db.Exec(st); err != nil {
			return errors.Wrap(err, "journal: migrate")
		}
	}
	return nil
}

func (j *Journal) Append(ctx context.Context, source string, receivedAtMs int64, payload string) error {
	if j == nil || j.db == nil {
		return errors.New("journal: db is nil")
	}
	if strings.TrimSpace(source) == "" {
		return errors.New("journal: source is empty")
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO updates (source, received_at_ms, payload) VALUES (?, ?, ?)`,
		source, receivedAtMs, payload)
	if err != nil {
		return errors.Wrap(err, "journal: append")
	}
	return nil
}

// Recent returns the newest entries first, at most limit of them.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("journal: db is nil")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, source, received_at_ms, payload FROM updates ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "journal: recent")
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Source, &e.ReceivedAtMs, &e.Payload); err != nil {
			return nil, errors.Wrap(err, "journal: scan")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "journal: rows")
	}
	return out, nil
}
