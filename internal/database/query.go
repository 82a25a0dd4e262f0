package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultQueryRows = 100
	maxQueryRows     = 10000
	queryTimeout     = "30s"
)

// QueryResult is the outcome of an ad-hoc read-only query, shaped for
// printing: uuids and timestamps are already strings.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated,omitempty"`
}

var ErrMultipleStatements = errors.New("only a single statement is allowed")

// ExecuteReadOnlyQuery runs one statement in a read-only transaction with a
// statement timeout and returns at most maxRows rows (default 100, capped at
// 10000). A single trailing semicolon is tolerated.
func (db *DB) ExecuteReadOnlyQuery(ctx context.Context, sql string, params []any, maxRows int) (*QueryResult, error) {
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")
	if strings.Contains(sql, ";") {
		return nil, ErrMultipleStatements
	}
	switch {
	case maxRows <= 0:
		maxRows = defaultQueryRows
	case maxRows > maxQueryRows:
		maxRows = maxQueryRows
	}

	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL statement_timeout = '"+queryTimeout+"'"); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	rows, err := tx.Query(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	res := &QueryResult{Rows: [][]any{}}
	for _, f := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, f.Name)
	}
	for rows.Next() {
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = displayValue(v)
		}
		res.Rows = append(res.Rows, values)
	}
	// Leaving Next early keeps the conn busy; close before Err and Commit.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	res.RowCount = len(res.Rows)
	return res, nil
}

// displayValue converts the pgx decodings that print badly.
func displayValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case []byte:
		return string(x)
	}
	return v
}
