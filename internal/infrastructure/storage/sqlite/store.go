// Package sqlite provides a single-file SQLite sequence store for
// deployments without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/mattn/go-sqlite3"

	"barcodeseq/internal/core/sequence"
	"barcodeseq/internal/infrastructure/storage/sqlseq"
)

// Compile-time interface checks.
var (
	_ sequence.Store  = (*Store)(nil)
	_ sequence.Setter = (*Store)(nil)
	_ sequence.Lister = (*Store)(nil)
)

// Store keeps sequences in a SQLite database using the same tables as the
// Postgres store.
type Store struct {
	db  *sql.DB
	q   sqlseq.Queries
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, q: sqlseq.New(squirrel.Question), now: time.Now}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlseq.Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Get implements sequence.Store.
func (s *Store) Get(ctx context.Context, key sequence.Key) (sequence.Record, error) {
	return s.selectOne(ctx, s.q.Get(key), key.String())
}

// Highest implements sequence.Store.
func (s *Store) Highest(ctx context.Context, prefix, week string, mode sequence.Mode) (sequence.Record, error) {
	return s.selectOne(ctx, s.q.Highest(prefix, week, mode), fmt.Sprintf("%s/%s/%s", prefix, week, mode))
}

func (s *Store) selectOne(ctx context.Context, q squirrel.SelectBuilder, scope string) (sequence.Record, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return sequence.Record{}, fmt.Errorf("build query: %w", err)
	}

	var row sqlseq.Row
	if err := sqlscan.Get(ctx, s.db, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sequence.Record{}, sequence.ErrNotFound
		}
		return sequence.Record{}, fmt.Errorf("select sequence %s: %w", scope, err)
	}
	return row.Record(), nil
}

// List implements sequence.Lister.
func (s *Store) List(ctx context.Context) ([]sequence.Record, error) {
	var out []sequence.Record
	for _, q := range []squirrel.SelectBuilder{s.q.ListSimple(), s.q.ListCompound()} {
		query, args, err := q.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build query: %w", err)
		}

		var rows []sqlseq.Row
		if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
			return nil, fmt.Errorf("list sequences: %w", err)
		}
		for _, r := range rows {
			out = append(out, r.Record())
		}
	}
	return out, nil
}

// Upsert implements sequence.Store.
func (s *Store) Upsert(ctx context.Context, key sequence.Key, expected, next int) error {
	query, args, err := s.q.Upsert(key, expected, next, s.now().UTC()).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("upsert sequence %s: %w", key, sequence.ErrConflict)
		}
		return fmt.Errorf("upsert sequence %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert sequence %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("upsert sequence %s from %d: %w", key, expected, sequence.ErrConflict)
	}
	return nil
}

// Set implements sequence.Setter.
func (s *Store) Set(ctx context.Context, key sequence.Key, value int) error {
	query, args, err := s.q.Set(key, value, s.now().UTC()).ToSql()
	if err != nil {
		return fmt.Errorf("build set: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set sequence %s: %w", key, err)
	}
	return nil
}

// Ping implements sequence.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
