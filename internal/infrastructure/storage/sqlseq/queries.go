// Package sqlseq builds the SQL shared by the relational sequence stores.
// Postgres and SQLite run the same statements; only placeholders differ.
package sqlseq

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"barcodeseq/internal/core/sequence"
)

// Schema creates both sequence tables. It is idempotent.
//
//go:embed schema.sql
var Schema string

const (
	SimpleTable   = "barcode_sequences"
	CompoundTable = "barcode_sequence_v2"
)

var (
	simpleCols   = []string{"id", "last_number", "updated_at"}
	compoundCols = []string{"id", "week", "mode", "daynightnum", "last_number", "updated_at"}
)

// Row is a sequence row of either table.
// Week, Mode and Slot stay zero for simple scopes.
type Row struct {
	ID         string    `db:"id"`
	Week       string    `db:"week"`
	Mode       string    `db:"mode"`
	Slot       int       `db:"daynightnum"`
	LastNumber int       `db:"last_number"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Record converts the row to its domain form.
func (r Row) Record() sequence.Record {
	return sequence.Record{
		Key: sequence.Key{
			Prefix: r.ID,
			Week:   r.Week,
			Mode:   sequence.Mode(r.Mode),
			Slot:   r.Slot,
		},
		LastNumber: r.LastNumber,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Queries builds statements for one placeholder dialect.
type Queries struct {
	sb squirrel.StatementBuilderType
}

// New returns a builder using ph (squirrel.Dollar for Postgres, squirrel.Question for SQLite).
func New(ph squirrel.PlaceholderFormat) Queries {
	return Queries{sb: squirrel.StatementBuilder.PlaceholderFormat(ph)}
}

// Get selects the record of key.
func (q Queries) Get(key sequence.Key) squirrel.SelectBuilder {
	if !key.Compound() {
		return q.sb.Select(simpleCols...).
			From(SimpleTable).
			Where(squirrel.Eq{"id": key.Prefix})
	}
	return q.sb.Select(compoundCols...).
		From(CompoundTable).
		Where(compoundKeyEq(key))
}

// Highest selects the record with the greatest slot of a compound scope.
func (q Queries) Highest(prefix, week string, mode sequence.Mode) squirrel.SelectBuilder {
	return q.sb.Select(compoundCols...).
		From(CompoundTable).
		Where(squirrel.Eq{"id": prefix, "week": week, "mode": string(mode)}).
		OrderBy("daynightnum DESC").
		Limit(1)
}

// ListSimple selects every simple-scope row.
func (q Queries) ListSimple() squirrel.SelectBuilder {
	return q.sb.Select(simpleCols...).
		From(SimpleTable).
		OrderBy("id")
}

// ListCompound selects every compound-scope row.
func (q Queries) ListCompound() squirrel.SelectBuilder {
	return q.sb.Select(compoundCols...).
		From(CompoundTable).
		OrderBy("id", "week", "mode", "daynightnum")
}

// Upsert moves key from expected to next. Zero affected rows means the
// stored value was not expected.
//
// expected == 0 inserts the row, or takes over an existing row still at 0.
func (q Queries) Upsert(key sequence.Key, expected, next int, now time.Time) squirrel.Sqlizer {
	if expected == 0 {
		table, conflict := target(key)
		return q.insert(key, next, now).Suffix(fmt.Sprintf(
			"ON CONFLICT (%s) DO UPDATE SET last_number = EXCLUDED.last_number, updated_at = EXCLUDED.updated_at WHERE %s.last_number = 0",
			conflict, table,
		))
	}

	table, _ := target(key)
	where := squirrel.And{keyEq(key), squirrel.Eq{"last_number": expected}}
	return q.sb.Update(table).
		Set("last_number", next).
		Set("updated_at", now).
		Where(where)
}

// Set overwrites key unconditionally. Operators use it to migrate counters.
func (q Queries) Set(key sequence.Key, value int, now time.Time) squirrel.Sqlizer {
	_, conflict := target(key)
	return q.insert(key, value, now).Suffix(fmt.Sprintf(
		"ON CONFLICT (%s) DO UPDATE SET last_number = EXCLUDED.last_number, updated_at = EXCLUDED.updated_at",
		conflict,
	))
}

func (q Queries) insert(key sequence.Key, value int, now time.Time) squirrel.InsertBuilder {
	if !key.Compound() {
		return q.sb.Insert(SimpleTable).
			Columns(simpleCols...).
			Values(key.Prefix, value, now)
	}
	return q.sb.Insert(CompoundTable).
		Columns(compoundCols...).
		Values(key.Prefix, key.Week, string(key.Mode), key.Slot, value, now)
}

func target(key sequence.Key) (table, conflict string) {
	if !key.Compound() {
		return SimpleTable, "id"
	}
	return CompoundTable, "id, week, mode, daynightnum"
}

func keyEq(key sequence.Key) squirrel.Sqlizer {
	if !key.Compound() {
		return squirrel.Eq{"id": key.Prefix}
	}
	return compoundKeyEq(key)
}

func compoundKeyEq(key sequence.Key) squirrel.And {
	return squirrel.And{
		squirrel.Eq{"id": key.Prefix},
		squirrel.Eq{"week": key.Week},
		squirrel.Eq{"mode": string(key.Mode)},
		squirrel.Eq{"daynightnum": key.Slot},
	}
}
