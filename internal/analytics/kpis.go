package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Events that count as activation when fired within the first week after
// signup.
var activationEventTypes = []string{"chart_viewed", "horoscope_viewed", "tarot_drawn"}

// featureAdoptionEvents maps the tracked feature keys to the event type that
// signals use of that feature.
var featureAdoptionEvents = map[string]string{
	"daily_dashboard": "daily_dashboard_viewed",
	"horoscope":       "horoscope_viewed",
	"tarot":           "tarot_drawn",
	"chart":           "chart_viewed",
	"astral_chat":     "astral_chat_used",
	"ritual":          "ritual_started",
}

// FeatureAdoption counts distinct 30-day users of each tracked feature.
type FeatureAdoption struct {
	DailyDashboard int
	Horoscope      int
	Tarot          int
	Chart          int
	AstralChat     int
	Ritual         int
}

// BusinessKPIs are the non-engagement numbers rolled into a daily metrics
// row: growth, revenue and adoption.
type BusinessKPIs struct {
	NewSignups          int
	ActivatedUsers      int
	ActivationRate      float64
	MRR                 float64
	ActiveSubscriptions int
	TrialSubscriptions  int
	NewConversions      int
	FeatureAdoption     FeatureAdoption
	TotalAccounts       int
}

// KPICalculator computes the business KPI block. Unlike the engagement
// rollup it reads the account and billing tables directly.
type KPICalculator struct {
	db *sql.DB
}

// NewKPICalculator creates a KPI calculator over the shared handle.
func NewKPICalculator(db *sql.DB) *KPICalculator {
	return &KPICalculator{db: db}
}

// ComputeKPIs computes every business KPI for the target day.
func (c *KPICalculator) ComputeKPIs(ctx context.Context, day time.Time) (*BusinessKPIs, error) {
	dayStart, dayEnd := DayBounds(day)
	mauStart := dayStart.AddDate(0, 0, -(mauWindowDays - 1))

	kpis := &BusinessKPIs{}
	var err error

	if kpis.NewSignups, err = c.signupCount(ctx, dayStart, dayEnd); err != nil {
		return nil, err
	}
	if kpis.ActivatedUsers, err = c.activatedCount(ctx, dayStart, dayEnd); err != nil {
		return nil, err
	}
	if kpis.NewSignups > 0 {
		kpis.ActivationRate = float64(kpis.ActivatedUsers) / float64(kpis.NewSignups) * 100
	}
	if kpis.MRR, kpis.ActiveSubscriptions, kpis.TrialSubscriptions, err = c.subscriptionStats(ctx); err != nil {
		return nil, err
	}
	if kpis.NewConversions, err = c.newConversionCount(ctx, dayStart, dayEnd); err != nil {
		return nil, err
	}
	if kpis.FeatureAdoption, err = c.featureAdoption(ctx, mauStart, dayEnd); err != nil {
		return nil, err
	}
	if kpis.TotalAccounts, err = c.totalAccounts(ctx); err != nil {
		return nil, err
	}
	return kpis, nil
}

// signupCount counts accounts created on the target day, test traffic
// excluded.
func (c *KPICalculator) signupCount(ctx context.Context, dayStart, dayEnd time.Time) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) AS count
		FROM "user" u
		WHERE u."createdAt" >= $1 AND u."createdAt" <= $2
		  AND `+testTrafficFilter("u.email", 3, 4),
		dayStart, dayEnd, TestEmailPattern, TestEmailExact,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("signup count: %w", err)
	}
	return count, nil
}

// activatedCount counts the day's signups that fired an activation event
// within seven days of their account creation.
func (c *KPICalculator) activatedCount(ctx context.Context, dayStart, dayEnd time.Time) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT u.id) AS count
		FROM "user" u
		JOIN conversion_events ce
		  ON ce.user_id = u.id::text
		 AND ce.event_type = ANY($5::text[])
		 AND ce.created_at >= u."createdAt"
		 AND ce.created_at <= u."createdAt" + INTERVAL '7 days'
		WHERE u."createdAt" >= $1 AND u."createdAt" <= $2
		  AND `+testTrafficFilter("u.email", 3, 4),
		dayStart, dayEnd, TestEmailPattern, TestEmailExact,
		pq.Array(activationEventTypes),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("activated count: %w", err)
	}
	return count, nil
}

// subscriptionStats reads current billing state: summed MRR plus active and
// trial subscription counts. Revenue includes trial subscriptions and only
// counts rows backed by a Stripe id; test accounts are excluded here the
// same as everywhere else.
func (c *KPICalculator) subscriptionStats(ctx context.Context) (mrr float64, active, trial int, err error) {
	err = c.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(COALESCE(s.monthly_amount_due, 0)), 0)::float AS mrr,
			COUNT(*) FILTER (WHERE s.status = 'active') AS active,
			COUNT(*) FILTER (WHERE s.status IN ('trial', 'trialing')) AS trial
		FROM subscriptions s
		WHERE s.status IN ('active', 'trial', 'trialing')
		  AND s.stripe_subscription_id IS NOT NULL
		  AND `+testTrafficFilter("s.user_email", 1, 2),
		TestEmailPattern, TestEmailExact,
	).Scan(&mrr, &active, &trial)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("subscription stats: %w", err)
	}
	return mrr, active, trial, nil
}

// newConversionCount counts distinct users who started a subscription on
// the target day, test accounts excluded. Any subscription row counts; the
// Stripe-id restriction applies to revenue, not conversions.
func (c *KPICalculator) newConversionCount(ctx context.Context, dayStart, dayEnd time.Time) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT s."userId") AS count
		FROM subscriptions s
		JOIN "user" u ON u.id = s."userId"
		WHERE s."createdAt" >= $1 AND s."createdAt" <= $2
		  AND `+testTrafficFilter("u.email", 3, 4),
		dayStart, dayEnd, TestEmailPattern, TestEmailExact,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("new conversion count: %w", err)
	}
	return count, nil
}

// featureAdoption counts distinct signed-in users of each tracked feature
// over the 30-day window. A single grouped scan covers all features.
func (c *KPICalculator) featureAdoption(ctx context.Context, windowStart, windowEnd time.Time) (FeatureAdoption, error) {
	eventTypes := make([]string, 0, len(featureAdoptionEvents))
	for _, eventType := range featureAdoptionEvents {
		eventTypes = append(eventTypes, eventType)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT ce.event_type, COUNT(DISTINCT ce.user_id) AS users
		FROM conversion_events ce
		WHERE ce.created_at >= $1 AND ce.created_at <= $2
		  AND ce.event_type = ANY($5::text[])
		  AND ce.user_id IS NOT NULL AND ce.user_id NOT LIKE 'anon:%'
		  AND `+testTrafficFilter("ce.user_email", 3, 4)+`
		GROUP BY ce.event_type`,
		windowStart, windowEnd, TestEmailPattern, TestEmailExact,
		pq.Array(eventTypes),
	)
	if err != nil {
		return FeatureAdoption{}, fmt.Errorf("feature adoption: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(featureAdoptionEvents))
	for rows.Next() {
		var eventType string
		var users int
		if err := rows.Scan(&eventType, &users); err != nil {
			return FeatureAdoption{}, fmt.Errorf("feature adoption scan: %w", err)
		}
		counts[eventType] = users
	}
	if err := rows.Err(); err != nil {
		return FeatureAdoption{}, fmt.Errorf("feature adoption: %w", err)
	}

	return FeatureAdoption{
		DailyDashboard: counts[featureAdoptionEvents["daily_dashboard"]],
		Horoscope:      counts[featureAdoptionEvents["horoscope"]],
		Tarot:          counts[featureAdoptionEvents["tarot"]],
		Chart:          counts[featureAdoptionEvents["chart"]],
		AstralChat:     counts[featureAdoptionEvents["astral_chat"]],
		Ritual:         counts[featureAdoptionEvents["ritual"]],
	}, nil
}

// totalAccounts counts all non-test accounts ever created.
func (c *KPICalculator) totalAccounts(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) AS count
		FROM "user" u
		WHERE `+testTrafficFilter("u.email", 1, 2),
		TestEmailPattern, TestEmailExact,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("total accounts: %w", err)
	}
	return count, nil
}
