// Copyright 2024-2026 Aiku AI

package linkstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS links (
	game_handle TEXT PRIMARY KEY,
	platform_id TEXT NOT NULL UNIQUE
);`

// SQLiteBackend stores the mapping in a single table. Save replaces the
// table content inside one transaction.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens (and creates if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Load(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT game_handle, platform_id FROM links")
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var handle, pid string
		if err := rows.Scan(&handle, &pid); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		out[handle] = pid
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Save(ctx context.Context, gameToPlatform map[string]string) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM links"); err != nil {
		return fmt.Errorf("clearing links: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO links (game_handle, platform_id) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()
	for handle, pid := range gameToPlatform {
		if _, err = stmt.ExecContext(ctx, handle, pid); err != nil {
			return fmt.Errorf("inserting link %q: %w", handle, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing links: %w", err)
	}
	return nil
}
