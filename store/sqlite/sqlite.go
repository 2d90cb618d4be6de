// Package sqlite archives page actions in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/store"
)

//go:embed schema.sql
var schemaSQL string

type SQLiteActionStore struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*SQLiteActionStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &SQLiteActionStore{db: db}, nil
}

func (s *SQLiteActionStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteActionStore) GetActionRecords(ctx context.Context, page int, limit int) ([]models.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prev_x, prev_y, current_x, current_y, tool, color, stroke_size
		FROM actions
		WHERE page = ?
		  AND id > COALESCE((SELECT cutoff FROM clear_marks WHERE page = ?), '')
		ORDER BY id DESC
		LIMIT ?`, page, page, limit)
	if err != nil {
		return []models.Action{}, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var newestFirst []models.Action
	for rows.Next() {
		a := models.Action{Page: page}
		var tool string
		if err := rows.Scan(&a.Id, &a.Prev.X, &a.Prev.Y, &a.Current.X, &a.Current.Y, &tool, &a.Color, &a.StrokeSize); err != nil {
			return []models.Action{}, fmt.Errorf("scan action: %w", err)
		}
		a.Tool = models.Tool(tool)
		newestFirst = append(newestFirst, a)
	}
	if err := rows.Err(); err != nil {
		return []models.Action{}, fmt.Errorf("iterate actions: %w", err)
	}

	actions := make([]models.Action, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		actions = append(actions, newestFirst[i])
	}
	return actions, nil
}

// WriteActionBatch writes all actions in one transaction, so either every
// action is written or all of them are returned.
func (s *SQLiteActionStore) WriteActionBatch(ctx context.Context, actions []models.Action) ([]models.Action, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return actions, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO actions
			(page, id, prev_x, prev_y, current_x, current_y, tool, color, stroke_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return actions, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range actions {
		if _, err := stmt.ExecContext(ctx, a.Page, a.Id, a.Prev.X, a.Prev.Y, a.Current.X, a.Current.Y, string(a.Tool), a.Color, a.StrokeSize); err != nil {
			return actions, fmt.Errorf("insert action %s: %w", a.Id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return actions, fmt.Errorf("commit: %w", err)
	}
	return nil, nil
}

func (s *SQLiteActionStore) SetClearMark(ctx context.Context, page int, before string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clear_marks (page, cutoff) VALUES (?, ?)
		ON CONFLICT(page) DO UPDATE SET cutoff = excluded.cutoff
		WHERE excluded.cutoff > clear_marks.cutoff`, page, before)
	if err != nil {
		return fmt.Errorf("set clear mark: %w", err)
	}
	return nil
}

func (s *SQLiteActionStore) DeletePageActions(ctx context.Context, page int, before string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE page = ? AND id < ?`, page, before)
	if err != nil {
		return fmt.Errorf("delete actions: %w", err)
	}
	return nil
}

var _ store.ActionStore = (*SQLiteActionStore)(nil)
