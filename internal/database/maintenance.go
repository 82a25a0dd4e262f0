package database

import (
	"context"
	"fmt"
	"time"
)

// PurgeFinishedJobs deletes terminal jobs (and, by cascade, their segments)
// that finished more than retention ago. Queued and running jobs are kept.
func (db *DB) PurgeFinishedJobs(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'needs_review', 'failed')
		  AND finished_at < now() - $1::interval
	`, retention.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
