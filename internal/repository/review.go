package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type reviewRow struct {
	MigrationReview
	CreatedAt int64 `db:"created_at"`
}

// InsertMigrationReview records a review row through ex, which is the
// migration connection while a step runs.
func InsertMigrationReview(ctx context.Context, ex sqlx.ExecerContext, review MigrationReview) error {
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO migration_review (id, run_id, version, table_name, row_key, reference, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		review.ID, review.RunID, review.Version, review.Table, review.RowKey,
		review.Reference, review.Reason, review.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert migration review for %s: %w", review.RowKey, err)
	}
	return nil
}

// ListMigrationReviews returns the rows migrations left for manual review,
// oldest first.
func (r *SQLiteRepository) ListMigrationReviews(ctx context.Context) ([]MigrationReview, error) {
	var rows []reviewRow
	err := r.q.SelectContext(ctx, &rows, `
		SELECT id, run_id, version, table_name, row_key, reference, reason, created_at
		FROM migration_review
		ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list migration reviews: %w", err)
	}

	reviews := make([]MigrationReview, 0, len(rows))
	for _, row := range rows {
		review := row.MigrationReview
		review.CreatedAt = time.Unix(row.CreatedAt, 0).UTC()
		reviews = append(reviews, review)
	}
	return reviews, nil
}
