package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"barcodeseq/internal/core/sequence"
	"barcodeseq/internal/infrastructure/storage/sqlseq"
	"barcodeseq/pkg/logger"
)

// Compile-time interface checks.
var (
	_ sequence.Store  = (*SequenceStore)(nil)
	_ sequence.Setter = (*SequenceStore)(nil)
	_ sequence.Lister = (*SequenceStore)(nil)
)

const uniqueViolation = "23505"

// SequenceStore keeps sequences in the barcode_sequences and
// barcode_sequence_v2 tables.
type SequenceStore struct {
	pool *Pool
	txm  *TxManager
	q    sqlseq.Queries
	now  func() time.Time
}

// NewSequenceStore creates a store over pool.
func NewSequenceStore(pool *Pool) *SequenceStore {
	return &SequenceStore{
		pool: pool,
		txm:  NewTxManager(pool),
		q:    sqlseq.New(squirrel.Dollar),
		now:  time.Now,
	}
}

// Migrate applies the embedded schema.
func (s *SequenceStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlseq.Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Get implements sequence.Store.
func (s *SequenceStore) Get(ctx context.Context, key sequence.Key) (sequence.Record, error) {
	return s.selectOne(ctx, s.q.Get(key), key.String())
}

// Highest implements sequence.Store.
func (s *SequenceStore) Highest(ctx context.Context, prefix, week string, mode sequence.Mode) (sequence.Record, error) {
	return s.selectOne(ctx, s.q.Highest(prefix, week, mode), fmt.Sprintf("%s/%s/%s", prefix, week, mode))
}

func (s *SequenceStore) selectOne(ctx context.Context, q squirrel.SelectBuilder, scope string) (sequence.Record, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return sequence.Record{}, fmt.Errorf("build query: %w", err)
	}

	var row sqlseq.Row
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sequence.Record{}, sequence.ErrNotFound
		}
		return sequence.Record{}, fmt.Errorf("select sequence %s: %w", scope, err)
	}
	return row.Record(), nil
}

// List implements sequence.Lister.
func (s *SequenceStore) List(ctx context.Context) ([]sequence.Record, error) {
	var out []sequence.Record
	for _, q := range []squirrel.SelectBuilder{s.q.ListSimple(), s.q.ListCompound()} {
		sql, args, err := q.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build query: %w", err)
		}

		var rows []sqlseq.Row
		if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
			return nil, fmt.Errorf("list sequences: %w", err)
		}
		for _, r := range rows {
			out = append(out, r.Record())
		}
	}
	return out, nil
}

// Upsert implements sequence.Store.
func (s *SequenceStore) Upsert(ctx context.Context, key sequence.Key, expected, next int) error {
	sql, args, err := s.q.Upsert(key, expected, next, s.now().UTC()).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("upsert sequence %s: %w", key, sequence.ErrConflict)
		}
		return fmt.Errorf("upsert sequence %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert sequence %s from %d: %w", key, expected, sequence.ErrConflict)
	}
	return nil
}

// Set implements sequence.Setter. The current row is locked while it is
// overwritten so the previous value can be logged.
func (s *SequenceStore) Set(ctx context.Context, key sequence.Key, value int) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		previous := 0
		rec, err := s.selectOne(ctx, s.q.Get(key).Suffix("FOR UPDATE"), key.String())
		switch {
		case err == nil:
			previous = rec.LastNumber
		case !errors.Is(err, sequence.ErrNotFound):
			return err
		}

		sql, args, err := s.q.Set(key, value, s.now().UTC()).ToSql()
		if err != nil {
			return fmt.Errorf("build set: %w", err)
		}
		if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("set sequence %s: %w", key, err)
		}

		logger.Info(ctx, "sequence force-set", "key", key.String(), "previous", previous, "value", value)
		return nil
	})
}

// Ping implements sequence.Store.
func (s *SequenceStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
