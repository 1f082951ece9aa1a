package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Trailing-window sizes, inclusive of the target day.
const (
	wauWindowDays = 7
	mauWindowDays = 30
)

// SegmentRollup holds the three windowed counts for one segment.
type SegmentRollup struct {
	DAU int
	WAU int
	MAU int
}

// ActiveDaysDistribution buckets users by how many distinct days they were
// active within a window.
type ActiveDaysDistribution struct {
	Days1      int
	Days2to3   int
	Days4to7   int
	Days8to14  int
	Days15Plus int
	AvgDays    float64
}

// RetentionRates are cohort return rates in percent.
type RetentionRates struct {
	D1  float64
	D7  float64
	D30 float64
}

// Rollup is the full Phase 2 output for one target day.
type Rollup struct {
	Date time.Time

	Segments map[Segment]SegmentRollup

	ReturningDAU int
	ReturningWAU int
	ReturningMAU int

	GrimoireOnlyMAU int

	ActiveDays30d        ActiveDaysDistribution
	AvgActiveDaysPerWeek float64
	Retention            RetentionRates
}

// RollupCalculator derives windowed unique-user counts purely from
// daily_unique_users snapshots. It never touches conversion_events, so its
// cost is bounded by days-in-window, not raw event volume.
type RollupCalculator struct {
	db *sql.DB
}

// NewRollupCalculator creates a rollup calculator over the shared handle.
func NewRollupCalculator(db *sql.DB) *RollupCalculator {
	return &RollupCalculator{db: db}
}

// ComputeRollup computes every windowed metric for the target day. All
// outputs are cardinalities: empty windows yield zero, never an error.
func (c *RollupCalculator) ComputeRollup(ctx context.Context, day time.Time) (*Rollup, error) {
	dayStart, _ := DayBounds(day)
	dateStr := dayStart.Format("2006-01-02")
	wauStart := dayStart.AddDate(0, 0, -(wauWindowDays - 1)).Format("2006-01-02")
	mauStart := dayStart.AddDate(0, 0, -(mauWindowDays - 1)).Format("2006-01-02")

	rollup := &Rollup{
		Date:     dayStart,
		Segments: make(map[Segment]SegmentRollup, len(Segments)),
	}

	for _, segment := range Segments {
		dau, err := c.snapshotCount(ctx, segment, dateStr)
		if err != nil {
			return nil, err
		}
		wau, err := c.windowCount(ctx, segment, wauStart, dateStr)
		if err != nil {
			return nil, err
		}
		mau, err := c.windowCount(ctx, segment, mauStart, dateStr)
		if err != nil {
			return nil, err
		}
		rollup.Segments[segment] = SegmentRollup{DAU: dau, WAU: wau, MAU: mau}
	}

	var err error
	if rollup.ReturningDAU, err = c.returningOnDay(ctx, SegmentAll, mauStart, dateStr); err != nil {
		return nil, err
	}
	if rollup.ReturningWAU, err = c.returningCount(ctx, SegmentAll, wauStart, dateStr); err != nil {
		return nil, err
	}
	if rollup.ReturningMAU, err = c.returningCount(ctx, SegmentAll, mauStart, dateStr); err != nil {
		return nil, err
	}
	if rollup.GrimoireOnlyMAU, err = c.grimoireOnlyCount(ctx, mauStart, dateStr); err != nil {
		return nil, err
	}
	if rollup.ActiveDays30d, err = c.activeDaysDistribution(ctx, SegmentAll, mauStart, dateStr); err != nil {
		return nil, err
	}
	weekDist, err := c.activeDaysDistribution(ctx, SegmentAll, wauStart, dateStr)
	if err != nil {
		return nil, err
	}
	rollup.AvgActiveDaysPerWeek = weekDist.AvgDays

	if rollup.Retention, err = c.retentionRates(ctx, dayStart); err != nil {
		return nil, err
	}

	return rollup, nil
}

// snapshotCount reads a day's DAU straight from the snapshot row.
func (c *RollupCalculator) snapshotCount(ctx context.Context, segment Segment, date string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT user_count AS count
		FROM daily_unique_users
		WHERE segment = $1 AND metric_date = $2::date`,
		string(segment), date,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("snapshot count %s/%s: %w", segment, date, err)
	}
	return count, nil
}

// windowCount unions a segment's snapshots over [start, end] and counts
// distinct identifiers.
func (c *RollupCalculator) windowCount(ctx context.Context, segment Segment, start, end string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT uid) AS count
		FROM daily_unique_users, LATERAL unnest(user_ids) AS uid
		WHERE segment = $1 AND metric_date >= $2::date AND metric_date <= $3::date`,
		string(segment), start, end,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("window count %s [%s, %s]: %w", segment, start, end, err)
	}
	return count, nil
}

// returningCount counts identifiers active on 2+ distinct days in-window.
// This is a strictly stronger predicate than window membership: presence
// alone never qualifies.
func (c *RollupCalculator) returningCount(ctx context.Context, segment Segment, start, end string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) AS count FROM (
			SELECT uid
			FROM daily_unique_users, LATERAL unnest(user_ids) AS uid
			WHERE segment = $1 AND metric_date >= $2::date AND metric_date <= $3::date
			GROUP BY uid
			HAVING COUNT(DISTINCT metric_date) >= 2
		) per_user`,
		string(segment), start, end,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("returning count %s [%s, %s]: %w", segment, start, end, err)
	}
	return count, nil
}

// returningOnDay counts users active on the window's end day who were also
// active on at least one earlier day in-window.
func (c *RollupCalculator) returningOnDay(ctx context.Context, segment Segment, start, end string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) AS count FROM (
			SELECT uid
			FROM daily_unique_users, LATERAL unnest(user_ids) AS uid
			WHERE segment = $1 AND metric_date >= $2::date AND metric_date <= $3::date
			GROUP BY uid
			HAVING COUNT(DISTINCT metric_date) >= 2 AND bool_or(metric_date = $3::date)
		) per_user`,
		string(segment), start, end,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("returning-on-day count %s [%s, %s]: %w", segment, start, end, err)
	}
	return count, nil
}

// grimoireOnlyCount is the 30-day grimoire population minus the 30-day
// app-opened population: a set difference, not an intersection.
func (c *RollupCalculator) grimoireOnlyCount(ctx context.Context, start, end string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		WITH grimoire_users AS (
			SELECT DISTINCT uid
			FROM daily_unique_users, LATERAL unnest(user_ids) AS uid
			WHERE segment = 'grimoire' AND metric_date >= $1::date AND metric_date <= $2::date
		),
		app_users AS (
			SELECT DISTINCT uid
			FROM daily_unique_users, LATERAL unnest(user_ids) AS uid
			WHERE segment = 'app_opened' AND metric_date >= $1::date AND metric_date <= $2::date
		)
		SELECT COUNT(*) AS count
		FROM grimoire_users g
		WHERE NOT EXISTS (SELECT 1 FROM app_users a WHERE a.uid = g.uid)`,
		start, end,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("grimoire-only count [%s, %s]: %w", start, end, err)
	}
	return count, nil
}

// activeDaysDistribution buckets users by distinct active days in-window.
func (c *RollupCalculator) activeDaysDistribution(ctx context.Context, segment Segment, start, end string) (ActiveDaysDistribution, error) {
	var dist ActiveDaysDistribution
	err := c.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE active_days = 1) AS days_1,
			COUNT(*) FILTER (WHERE active_days BETWEEN 2 AND 3) AS days_2_3,
			COUNT(*) FILTER (WHERE active_days BETWEEN 4 AND 7) AS days_4_7,
			COUNT(*) FILTER (WHERE active_days BETWEEN 8 AND 14) AS days_8_14,
			COUNT(*) FILTER (WHERE active_days >= 15) AS days_15_plus,
			COALESCE(AVG(active_days), 0)::float AS avg_days
		FROM (
			SELECT uid, COUNT(DISTINCT metric_date) AS active_days
			FROM daily_unique_users, LATERAL unnest(user_ids) AS uid
			WHERE segment = $1 AND metric_date >= $2::date AND metric_date <= $3::date
			GROUP BY uid
		) per_user`,
		string(segment), start, end,
	).Scan(&dist.Days1, &dist.Days2to3, &dist.Days4to7, &dist.Days8to14,
		&dist.Days15Plus, &dist.AvgDays)
	if err != nil {
		return ActiveDaysDistribution{}, fmt.Errorf("active days distribution %s [%s, %s]: %w", segment, start, end, err)
	}
	return dist, nil
}

// retentionRates computes d1/d7/d30 cohort return rates: the share of users
// who signed up N days before the target day and show up in the target
// day's all-activity snapshot. Empty cohorts yield zero.
func (c *RollupCalculator) retentionRates(ctx context.Context, dayStart time.Time) (RetentionRates, error) {
	rates := RetentionRates{}
	offsets := []struct {
		days int
		dst  *float64
	}{
		{1, &rates.D1},
		{7, &rates.D7},
		{30, &rates.D30},
	}

	targetDate := dayStart.Format("2006-01-02")
	for _, o := range offsets {
		cohortStart, cohortEnd := DayBounds(dayStart.AddDate(0, 0, -o.days))

		var cohortSize, returned int
		err := c.db.QueryRowContext(ctx, `
			WITH cohort AS (
				SELECT u.id::text AS user_id
				FROM "user" u
				WHERE u."createdAt" >= $1 AND u."createdAt" <= $2
				  AND `+testTrafficFilter("u.email", 4, 5)+`
			),
			returned AS (
				SELECT DISTINCT uid
				FROM daily_unique_users, LATERAL unnest(user_ids) AS uid
				WHERE segment = 'all' AND metric_date = $3::date
			)
			SELECT COUNT(*) AS cohort_size,
			       COUNT(*) FILTER (
			           WHERE EXISTS (SELECT 1 FROM returned r WHERE r.uid = c.user_id)
			       ) AS returned
			FROM cohort c`,
			cohortStart, cohortEnd, targetDate, TestEmailPattern, TestEmailExact,
		).Scan(&cohortSize, &returned)
		if err != nil {
			return RetentionRates{}, fmt.Errorf("d%d retention for %s: %w", o.days, targetDate, err)
		}
		if cohortSize > 0 {
			*o.dst = float64(returned) / float64(cohortSize) * 100
		}
	}
	return rates, nil
}
