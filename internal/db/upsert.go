package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "public.incinerators")
	Columns      []string // staged columns, in row order
	ColumnTypes  []string // staging column types, parallel to Columns
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict target columns

	// Expressions maps a staged column to the SQL written into the target
	// column of the same name. Columns without an entry are copied as-is.
	Expressions map[string]string
	// Derived target columns computed only from staged columns.
	Derived []DerivedColumn
}

// DerivedColumn is a target column with no staged counterpart.
type DerivedColumn struct {
	Column string
	Expr   string
}

// BulkUpsert performs a bulk upsert via a staging table and INSERT ... ON CONFLICT.
// 1. Creates a temp table with the staged column types
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE SET ...
// The temp table is dropped on commit.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ColumnTypes) != len(cfg.Columns) {
		return 0, eris.Errorf("db: upsert: %d column types for %d columns", len(cfg.ColumnTypes), len(cfg.Columns))
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	targetCols, selectExprs := targetColumns(cfg)

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range targetCols {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := stagingTable(cfg.Table)

	if _, err := tx.Exec(ctx, stagingDDL(tempTable, cfg.Columns, cfg.ColumnTypes)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	copySource := pgx.CopyFromRows(rows)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, copySource); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	var setClauses []string
	for _, col := range updateCols {
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", pgx.Identifier{col}.Sanitize(), pgx.Identifier{col}.Sanitize()))
	}

	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(targetCols),
		strings.Join(selectExprs, ", "),
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	)

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

// targetColumns lists the target columns with the SELECT expression feeding each.
func targetColumns(cfg UpsertConfig) ([]string, []string) {
	cols := make([]string, 0, len(cfg.Columns)+len(cfg.Derived))
	exprs := make([]string, 0, cap(cols))
	for _, c := range cfg.Columns {
		cols = append(cols, c)
		if e, ok := cfg.Expressions[c]; ok {
			exprs = append(exprs, e)
		} else {
			exprs = append(exprs, pgx.Identifier{c}.Sanitize())
		}
	}
	for _, d := range cfg.Derived {
		cols = append(cols, d.Column)
		exprs = append(exprs, d.Expr)
	}
	return cols, exprs
}

func stagingTable(table string) string {
	return "_tmp_upsert_" + strings.ReplaceAll(table, ".", "_")
}

func stagingDDL(table string, cols, types []string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgx.Identifier{c}.Sanitize() + " " + types[i]
	}
	return fmt.Sprintf("CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{table}.Sanitize(), strings.Join(defs, ", "))
}

// sanitizeTable handles schema-qualified table names like "public.incinerators".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
