package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// SnapshotBuilder materializes the per-day, per-segment distinct-user sets
// in daily_unique_users (Phase 1). Phase 2 reads only those snapshots.
type SnapshotBuilder struct {
	db *sql.DB
}

// NewSnapshotBuilder creates a snapshot builder over the shared handle.
func NewSnapshotBuilder(db *sql.DB) *SnapshotBuilder {
	return &SnapshotBuilder{db: db}
}

// DayBounds returns the inclusive UTC bounds of the calendar day containing t.
func DayBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	end = start.Add(24*time.Hour - time.Millisecond)
	return start, end
}

// BuildSnapshots scans the event log once per segment for the given day and
// upserts one snapshot row per segment, keyed (metric_date, segment).
// Re-running for the same day overwrites each row with freshly computed
// content. The first failing segment aborts the run: a partial snapshot set
// is never valid and the caller retries the whole day.
func (b *SnapshotBuilder) BuildSnapshots(ctx context.Context, day time.Time, hasIdentityLinks bool) error {
	dayStart, dayEnd := DayBounds(day)
	dateStr := dayStart.Format("2006-01-02")

	for _, segment := range Segments {
		if err := b.buildSegment(ctx, segment, dayStart, dayEnd, dateStr, hasIdentityLinks); err != nil {
			return fmt.Errorf("snapshot segment %s for %s: %w", segment, dateStr, err)
		}
	}
	log.Printf("[snapshots] %s: %d segments written", dateStr, len(Segments))
	return nil
}

func (b *SnapshotBuilder) buildSegment(ctx context.Context, segment Segment, dayStart, dayEnd time.Time, dateStr string, hasIdentityLinks bool) error {
	spec := segment.Spec()

	query := fmt.Sprintf(`
		INSERT INTO daily_unique_users (metric_date, segment, user_ids, user_count, computed_at)
		SELECT $5::date, '%s',
		       COALESCE(array_agg(DISTINCT resolved_id), '{}'),
		       COUNT(DISTINCT resolved_id),
		       NOW()
		FROM (
			SELECT %s AS resolved_id
			FROM conversion_events ce
			%s
			WHERE ce.created_at >= $1 AND ce.created_at <= $2
			  AND (ce.user_id IS NOT NULL OR ce.anonymous_id IS NOT NULL)
			  %s
			  AND %s
		) sub
		WHERE resolved_id IS NOT NULL
		ON CONFLICT (metric_date, segment) DO UPDATE SET
			user_ids = EXCLUDED.user_ids,
			user_count = EXCLUDED.user_count,
			computed_at = NOW()`,
		segment,
		resolvedIDExpr(hasIdentityLinks, spec.SignedInOnly),
		identityLinksJoin(hasIdentityLinks),
		spec.FilterSQL,
		testTrafficFilter("ce.user_email", 3, 4),
	)

	_, err := b.db.ExecContext(ctx, query,
		dayStart, dayEnd, TestEmailPattern, TestEmailExact, dateStr)
	return err
}
