package database

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// InitSchema applies schema.sql when the jobs table is missing and is a
// no-op otherwise.
func (db *DB) InitSchema(ctx context.Context) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'jobs')`,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}
