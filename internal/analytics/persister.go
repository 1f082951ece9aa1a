package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DailyMetrics is one row of the daily_metrics rollup table: every
// engagement and business number for a single day, keyed by metric_date.
type DailyMetrics struct {
	MetricDate time.Time `json:"metric_date"`

	DAU int `json:"dau"`
	WAU int `json:"wau"`
	MAU int `json:"mau"`

	SignedInProductDAU int `json:"signed_in_product_dau"`
	SignedInProductWAU int `json:"signed_in_product_wau"`
	SignedInProductMAU int `json:"signed_in_product_mau"`

	AppOpenedDAU int `json:"app_opened_dau"`
	AppOpenedWAU int `json:"app_opened_wau"`
	AppOpenedMAU int `json:"app_opened_mau"`

	ReachDAU int `json:"reach_dau"`
	ReachWAU int `json:"reach_wau"`
	ReachMAU int `json:"reach_mau"`

	GrimoireDAU     int `json:"grimoire_dau"`
	GrimoireWAU     int `json:"grimoire_wau"`
	GrimoireMAU     int `json:"grimoire_mau"`
	GrimoireOnlyMAU int `json:"grimoire_only_mau"`

	ReturningDAU int `json:"returning_dau"`
	ReturningWAU int `json:"returning_wau"`
	ReturningMAU int `json:"returning_mau"`

	D1Retention  float64 `json:"d1_retention"`
	D7Retention  float64 `json:"d7_retention"`
	D30Retention float64 `json:"d30_retention"`

	ActiveDays1          int     `json:"active_days_1"`
	ActiveDays2to3       int     `json:"active_days_2_3"`
	ActiveDays4to7       int     `json:"active_days_4_7"`
	ActiveDays8to14      int     `json:"active_days_8_14"`
	ActiveDays15Plus     int     `json:"active_days_15_plus"`
	AvgActiveDaysPerWeek float64 `json:"avg_active_days_per_week"`

	Stickiness float64 `json:"stickiness"`

	NewSignups          int     `json:"new_signups"`
	ActivatedUsers      int     `json:"activated_users"`
	ActivationRate      float64 `json:"activation_rate"`
	MRR                 float64 `json:"mrr"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
	TrialSubscriptions  int     `json:"trial_subscriptions"`
	NewConversions      int     `json:"new_conversions"`

	DashboardAdoption float64 `json:"dashboard_adoption"`
	HoroscopeAdoption float64 `json:"horoscope_adoption"`
	TarotAdoption     float64 `json:"tarot_adoption"`
	ChartAdoption     float64 `json:"chart_adoption"`
	GuideAdoption     float64 `json:"guide_adoption"`
	RitualAdoption    float64 `json:"ritual_adoption"`

	TotalAccounts int `json:"total_accounts"`

	ComputationDurationMs int64 `json:"computation_duration_ms"`
}

// MetricsStore persists and serves daily_metrics rows.
type MetricsStore struct {
	db *sql.DB
}

// NewMetricsStore creates a metrics store over the shared handle.
func NewMetricsStore(db *sql.DB) *MetricsStore {
	return &MetricsStore{db: db}
}

// UpsertDailyMetrics writes the day's rollup row. The row is keyed on
// metric_date alone: recomputing a day replaces its row wholesale, so the
// table always holds exactly one row per computed day.
func (s *MetricsStore) UpsertDailyMetrics(ctx context.Context, m *DailyMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_metrics (
			metric_date,
			dau, wau, mau,
			signed_in_product_dau, signed_in_product_wau, signed_in_product_mau,
			app_opened_dau, app_opened_wau, app_opened_mau,
			reach_dau, reach_wau, reach_mau,
			grimoire_dau, grimoire_wau, grimoire_mau, grimoire_only_mau,
			returning_dau, returning_wau, returning_mau,
			d1_retention, d7_retention, d30_retention,
			active_days_1, active_days_2_3, active_days_4_7,
			active_days_8_14, active_days_15_plus, avg_active_days_per_week,
			stickiness,
			new_signups, activated_users, activation_rate,
			mrr, active_subscriptions, trial_subscriptions, new_conversions,
			dashboard_adoption, horoscope_adoption, tarot_adoption,
			chart_adoption, guide_adoption, ritual_adoption,
			total_accounts,
			computation_duration_ms, computed_at
		) VALUES (
			$1::date,
			$2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20,
			$21, $22, $23,
			$24, $25, $26,
			$27, $28, $29,
			$30,
			$31, $32, $33,
			$34, $35, $36, $37,
			$38, $39, $40,
			$41, $42, $43,
			$44,
			$45, NOW()
		)
		ON CONFLICT (metric_date) DO UPDATE SET
			dau = EXCLUDED.dau,
			wau = EXCLUDED.wau,
			mau = EXCLUDED.mau,
			signed_in_product_dau = EXCLUDED.signed_in_product_dau,
			signed_in_product_wau = EXCLUDED.signed_in_product_wau,
			signed_in_product_mau = EXCLUDED.signed_in_product_mau,
			app_opened_dau = EXCLUDED.app_opened_dau,
			app_opened_wau = EXCLUDED.app_opened_wau,
			app_opened_mau = EXCLUDED.app_opened_mau,
			reach_dau = EXCLUDED.reach_dau,
			reach_wau = EXCLUDED.reach_wau,
			reach_mau = EXCLUDED.reach_mau,
			grimoire_dau = EXCLUDED.grimoire_dau,
			grimoire_wau = EXCLUDED.grimoire_wau,
			grimoire_mau = EXCLUDED.grimoire_mau,
			grimoire_only_mau = EXCLUDED.grimoire_only_mau,
			returning_dau = EXCLUDED.returning_dau,
			returning_wau = EXCLUDED.returning_wau,
			returning_mau = EXCLUDED.returning_mau,
			d1_retention = EXCLUDED.d1_retention,
			d7_retention = EXCLUDED.d7_retention,
			d30_retention = EXCLUDED.d30_retention,
			active_days_1 = EXCLUDED.active_days_1,
			active_days_2_3 = EXCLUDED.active_days_2_3,
			active_days_4_7 = EXCLUDED.active_days_4_7,
			active_days_8_14 = EXCLUDED.active_days_8_14,
			active_days_15_plus = EXCLUDED.active_days_15_plus,
			avg_active_days_per_week = EXCLUDED.avg_active_days_per_week,
			stickiness = EXCLUDED.stickiness,
			new_signups = EXCLUDED.new_signups,
			activated_users = EXCLUDED.activated_users,
			activation_rate = EXCLUDED.activation_rate,
			mrr = EXCLUDED.mrr,
			active_subscriptions = EXCLUDED.active_subscriptions,
			trial_subscriptions = EXCLUDED.trial_subscriptions,
			new_conversions = EXCLUDED.new_conversions,
			dashboard_adoption = EXCLUDED.dashboard_adoption,
			horoscope_adoption = EXCLUDED.horoscope_adoption,
			tarot_adoption = EXCLUDED.tarot_adoption,
			chart_adoption = EXCLUDED.chart_adoption,
			guide_adoption = EXCLUDED.guide_adoption,
			ritual_adoption = EXCLUDED.ritual_adoption,
			total_accounts = EXCLUDED.total_accounts,
			computation_duration_ms = EXCLUDED.computation_duration_ms,
			computed_at = NOW()`,
		m.MetricDate.Format("2006-01-02"),
		m.DAU, m.WAU, m.MAU,
		m.SignedInProductDAU, m.SignedInProductWAU, m.SignedInProductMAU,
		m.AppOpenedDAU, m.AppOpenedWAU, m.AppOpenedMAU,
		m.ReachDAU, m.ReachWAU, m.ReachMAU,
		m.GrimoireDAU, m.GrimoireWAU, m.GrimoireMAU, m.GrimoireOnlyMAU,
		m.ReturningDAU, m.ReturningWAU, m.ReturningMAU,
		m.D1Retention, m.D7Retention, m.D30Retention,
		m.ActiveDays1, m.ActiveDays2to3, m.ActiveDays4to7,
		m.ActiveDays8to14, m.ActiveDays15Plus, m.AvgActiveDaysPerWeek,
		m.Stickiness,
		m.NewSignups, m.ActivatedUsers, m.ActivationRate,
		m.MRR, m.ActiveSubscriptions, m.TrialSubscriptions, m.NewConversions,
		m.DashboardAdoption, m.HoroscopeAdoption, m.TarotAdoption,
		m.ChartAdoption, m.GuideAdoption, m.RitualAdoption,
		m.TotalAccounts,
		m.ComputationDurationMs,
	)
	if err != nil {
		return fmt.Errorf("upsert daily metrics: %w", err)
	}
	return nil
}

// GetLatest returns the most recent daily_metrics row, or nil when none
// has been computed yet.
func (s *MetricsStore) GetLatest(ctx context.Context) (*DailyMetrics, error) {
	m := &DailyMetrics{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			metric_date,
			dau, wau, mau,
			signed_in_product_dau, signed_in_product_wau, signed_in_product_mau,
			app_opened_dau, app_opened_wau, app_opened_mau,
			reach_dau, reach_wau, reach_mau,
			grimoire_dau, grimoire_wau, grimoire_mau, grimoire_only_mau,
			returning_dau, returning_wau, returning_mau,
			d1_retention, d7_retention, d30_retention,
			active_days_1, active_days_2_3, active_days_4_7,
			active_days_8_14, active_days_15_plus, avg_active_days_per_week,
			stickiness,
			new_signups, activated_users, activation_rate,
			mrr, active_subscriptions, trial_subscriptions, new_conversions,
			dashboard_adoption, horoscope_adoption, tarot_adoption,
			chart_adoption, guide_adoption, ritual_adoption,
			total_accounts,
			computation_duration_ms
		FROM daily_metrics
		ORDER BY metric_date DESC
		LIMIT 1`,
	).Scan(
		&m.MetricDate,
		&m.DAU, &m.WAU, &m.MAU,
		&m.SignedInProductDAU, &m.SignedInProductWAU, &m.SignedInProductMAU,
		&m.AppOpenedDAU, &m.AppOpenedWAU, &m.AppOpenedMAU,
		&m.ReachDAU, &m.ReachWAU, &m.ReachMAU,
		&m.GrimoireDAU, &m.GrimoireWAU, &m.GrimoireMAU, &m.GrimoireOnlyMAU,
		&m.ReturningDAU, &m.ReturningWAU, &m.ReturningMAU,
		&m.D1Retention, &m.D7Retention, &m.D30Retention,
		&m.ActiveDays1, &m.ActiveDays2to3, &m.ActiveDays4to7,
		&m.ActiveDays8to14, &m.ActiveDays15Plus, &m.AvgActiveDaysPerWeek,
		&m.Stickiness,
		&m.NewSignups, &m.ActivatedUsers, &m.ActivationRate,
		&m.MRR, &m.ActiveSubscriptions, &m.TrialSubscriptions, &m.NewConversions,
		&m.DashboardAdoption, &m.HoroscopeAdoption, &m.TarotAdoption,
		&m.ChartAdoption, &m.GuideAdoption, &m.RitualAdoption,
		&m.TotalAccounts,
		&m.ComputationDurationMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest daily metrics: %w", err)
	}
	return m, nil
}
