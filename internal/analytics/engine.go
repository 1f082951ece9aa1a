package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Summary is the condensed metrics block returned to callers after a run.
type Summary struct {
	DAU             int     `json:"dau"`
	WAU             int     `json:"wau"`
	MAU             int     `json:"mau"`
	ProductDAU      int     `json:"productDau"`
	ProductWAU      int     `json:"productWau"`
	ProductMAU      int     `json:"productMau"`
	ReachDAU        int     `json:"reachDau"`
	GrimoireMAU     int     `json:"grimoireMau"`
	GrimoireOnlyMAU int     `json:"grimoireOnlyMau"`
	ReturningDAU    int     `json:"returningDau"`
	Stickiness      float64 `json:"stickiness"`
	Signups         int     `json:"signups"`
	MRR             float64 `json:"mrr"`
	Conversions     int     `json:"conversions"`
}

// RunResult is what one engine run produces: the persisted row, its summary
// and how long the computation took.
type RunResult struct {
	Date     time.Time
	Metrics  *DailyMetrics
	Summary  Summary
	Duration time.Duration
}

// Engine runs the full two-phase computation for one day: snapshot
// materialization, snapshot-derived rollups, business KPIs, then a single
// daily_metrics upsert. Every step is idempotent, so concurrent or
// repeated runs for the same day converge on identical rows without any
// locking.
type Engine struct {
	db        *sql.DB
	snapshots *SnapshotBuilder
	rollups   *RollupCalculator
	kpis      *KPICalculator
	metrics   *MetricsStore

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine wires an engine over the shared database handle.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{
		db:        db,
		snapshots: NewSnapshotBuilder(db),
		rollups:   NewRollupCalculator(db),
		kpis:      NewKPICalculator(db),
		metrics:   NewMetricsStore(db),
		now:       time.Now,
	}
}

// DefaultTargetDay returns yesterday in UTC, the day a scheduled run
// computes when no explicit date is given.
func (e *Engine) DefaultTargetDay() time.Time {
	day, _ := DayBounds(e.now().UTC().AddDate(0, 0, -1))
	return day
}

// ComputeDay runs both phases and the KPI block for the given day and
// persists the result. Phases run strictly in order and the first failure
// aborts the run; nothing downstream of a failed phase executes.
func (e *Engine) ComputeDay(ctx context.Context, day time.Time) (*RunResult, error) {
	started := e.now()
	dayStart, _ := DayBounds(day)
	dateStr := dayStart.Format("2006-01-02")
	log.Printf("[engine] computing metrics for %s", dateStr)

	hasIdentityLinks, err := DetectIdentityLinks(ctx, e.db)
	if err != nil {
		return nil, err
	}

	if err := e.snapshots.BuildSnapshots(ctx, dayStart, hasIdentityLinks); err != nil {
		return nil, fmt.Errorf("phase 1: %w", err)
	}

	rollup, err := e.rollups.ComputeRollup(ctx, dayStart)
	if err != nil {
		return nil, fmt.Errorf("phase 2: %w", err)
	}

	kpis, err := e.kpis.ComputeKPIs(ctx, dayStart)
	if err != nil {
		return nil, fmt.Errorf("kpis: %w", err)
	}

	row := assembleDailyMetrics(dayStart, rollup, kpis)
	elapsed := e.now().Sub(started)
	row.ComputationDurationMs = max(elapsed.Milliseconds(), 1)

	if err := e.metrics.UpsertDailyMetrics(ctx, row); err != nil {
		return nil, err
	}

	log.Printf("[engine] %s done: dau=%d wau=%d mau=%d (%dms)",
		dateStr, row.DAU, row.WAU, row.MAU, row.ComputationDurationMs)

	return &RunResult{
		Date:     dayStart,
		Metrics:  row,
		Summary:  summarize(row),
		Duration: elapsed,
	}, nil
}

// ComputeRange recomputes every day in [from, to] in chronological order,
// stopping at the first failure. Used for backfills.
func (e *Engine) ComputeRange(ctx context.Context, from, to time.Time) (int, error) {
	fromDay, _ := DayBounds(from)
	toDay, _ := DayBounds(to)
	if toDay.Before(fromDay) {
		return 0, fmt.Errorf("invalid range: %s is after %s",
			fromDay.Format("2006-01-02"), toDay.Format("2006-01-02"))
	}

	computed := 0
	for day := fromDay; !day.After(toDay); day = day.AddDate(0, 0, 1) {
		if _, err := e.ComputeDay(ctx, day); err != nil {
			return computed, err
		}
		computed++
	}
	return computed, nil
}

func assembleDailyMetrics(day time.Time, rollup *Rollup, kpis *BusinessKPIs) *DailyMetrics {
	all := rollup.Segments[SegmentAll]
	product := rollup.Segments[SegmentProduct]
	appOpened := rollup.Segments[SegmentAppOpened]
	reach := rollup.Segments[SegmentReach]
	grimoire := rollup.Segments[SegmentGrimoire]

	m := &DailyMetrics{
		MetricDate: day,

		DAU: all.DAU,
		WAU: all.WAU,
		MAU: all.MAU,

		SignedInProductDAU: product.DAU,
		SignedInProductWAU: product.WAU,
		SignedInProductMAU: product.MAU,

		AppOpenedDAU: appOpened.DAU,
		AppOpenedWAU: appOpened.WAU,
		AppOpenedMAU: appOpened.MAU,

		ReachDAU: reach.DAU,
		ReachWAU: reach.WAU,
		ReachMAU: reach.MAU,

		GrimoireDAU:     grimoire.DAU,
		GrimoireWAU:     grimoire.WAU,
		GrimoireMAU:     grimoire.MAU,
		GrimoireOnlyMAU: rollup.GrimoireOnlyMAU,

		ReturningDAU: rollup.ReturningDAU,
		ReturningWAU: rollup.ReturningWAU,
		ReturningMAU: rollup.ReturningMAU,

		D1Retention:  rollup.Retention.D1,
		D7Retention:  rollup.Retention.D7,
		D30Retention: rollup.Retention.D30,

		ActiveDays1:          rollup.ActiveDays30d.Days1,
		ActiveDays2to3:       rollup.ActiveDays30d.Days2to3,
		ActiveDays4to7:       rollup.ActiveDays30d.Days4to7,
		ActiveDays8to14:      rollup.ActiveDays30d.Days8to14,
		ActiveDays15Plus:     rollup.ActiveDays30d.Days15Plus,
		AvgActiveDaysPerWeek: rollup.AvgActiveDaysPerWeek,

		NewSignups:          kpis.NewSignups,
		ActivatedUsers:      kpis.ActivatedUsers,
		ActivationRate:      kpis.ActivationRate,
		MRR:                 kpis.MRR,
		ActiveSubscriptions: kpis.ActiveSubscriptions,
		TrialSubscriptions:  kpis.TrialSubscriptions,
		NewConversions:      kpis.NewConversions,

		TotalAccounts: kpis.TotalAccounts,
	}

	if m.MAU > 0 {
		m.Stickiness = float64(m.DAU) / float64(m.MAU) * 100
	}

	// Adoption is the share of the signed-in product MAU that touched each
	// feature in the same 30-day window. No product users, no adoption.
	m.DashboardAdoption = adoptionRate(kpis.FeatureAdoption.DailyDashboard, product.MAU)
	m.HoroscopeAdoption = adoptionRate(kpis.FeatureAdoption.Horoscope, product.MAU)
	m.TarotAdoption = adoptionRate(kpis.FeatureAdoption.Tarot, product.MAU)
	m.ChartAdoption = adoptionRate(kpis.FeatureAdoption.Chart, product.MAU)
	m.GuideAdoption = adoptionRate(kpis.FeatureAdoption.AstralChat, product.MAU)
	m.RitualAdoption = adoptionRate(kpis.FeatureAdoption.Ritual, product.MAU)

	return m
}

func adoptionRate(users, productMAU int) float64 {
	if productMAU <= 0 {
		return 0
	}
	return float64(users) / float64(productMAU) * 100
}

func summarize(m *DailyMetrics) Summary {
	return Summary{
		DAU:             m.DAU,
		WAU:             m.WAU,
		MAU:             m.MAU,
		ProductDAU:      m.SignedInProductDAU,
		ProductWAU:      m.SignedInProductWAU,
		ProductMAU:      m.SignedInProductMAU,
		ReachDAU:        m.ReachDAU,
		GrimoireMAU:     m.GrimoireMAU,
		GrimoireOnlyMAU: m.GrimoireOnlyMAU,
		ReturningDAU:    m.ReturningDAU,
		Stickiness:      m.Stickiness,
		Signups:         m.NewSignups,
		MRR:             m.MRR,
		Conversions:     m.NewConversions,
	}
}
