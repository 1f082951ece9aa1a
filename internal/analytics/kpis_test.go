package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestKPI_SignupCount(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	dayStart, dayEnd := DayBounds(day)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS count").
		WithArgs(dayStart, dayEnd, TestEmailPattern, TestEmailExact).
		WillReturnRows(countRows(17))

	calc := NewKPICalculator(db)
	count, err := calc.signupCount(context.Background(), dayStart, dayEnd)
	if err != nil {
		t.Fatalf("signupCount() error: %v", err)
	}
	if count != 17 {
		t.Errorf("count = %d, want 17", count)
	}
}

func TestKPI_ActivatedCount(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	dayStart, dayEnd := DayBounds(day)

	mock.ExpectQuery("INTERVAL '7 days'").
		WillReturnRows(countRows(5))

	calc := NewKPICalculator(db)
	count, err := calc.activatedCount(context.Background(), dayStart, dayEnd)
	if err != nil {
		t.Fatalf("activatedCount() error: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestKPI_SubscriptionStats(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// MRR sums monthly_amount_due across active AND trial/trialing rows,
	// and the test-account exclusion binds its two filter params.
	mock.ExpectQuery("SUM\\(COALESCE\\(s.monthly_amount_due, 0\\)\\)").
		WithArgs(TestEmailPattern, TestEmailExact).
		WillReturnRows(sqlmock.NewRows([]string{"mrr", "active", "trial"}).
			AddRow(1234.50, 80, 15))

	calc := NewKPICalculator(db)
	mrr, active, trial, err := calc.subscriptionStats(context.Background())
	if err != nil {
		t.Fatalf("subscriptionStats() error: %v", err)
	}
	if mrr != 1234.50 {
		t.Errorf("mrr = %v, want 1234.50", mrr)
	}
	if active != 80 || trial != 15 {
		t.Errorf("active/trial = %d/%d, want 80/15", active, trial)
	}
}

func TestKPI_SubscriptionStats_TrialStatusesInScope(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("s.status IN \\('active', 'trial', 'trialing'\\)").
		WithArgs(TestEmailPattern, TestEmailExact).
		WillReturnRows(sqlmock.NewRows([]string{"mrr", "active", "trial"}).
			AddRow(300.0, 0, 10))

	calc := NewKPICalculator(db)
	mrr, _, trial, err := calc.subscriptionStats(context.Background())
	if err != nil {
		t.Fatalf("subscriptionStats() error: %v", err)
	}
	// Trial-only revenue still lands in MRR.
	if mrr != 300.0 || trial != 10 {
		t.Errorf("mrr/trial = %v/%d, want 300/10", mrr, trial)
	}
}

func TestKPI_NewConversionCount(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	dayStart, dayEnd := DayBounds(day)

	// Conversions count distinct subscribing users via the collaborator's
	// camelCase columns; there is no Stripe-id restriction here.
	mock.ExpectQuery(`COUNT\(DISTINCT s\."userId"\)`).
		WithArgs(dayStart, dayEnd, TestEmailPattern, TestEmailExact).
		WillReturnRows(countRows(3))

	calc := NewKPICalculator(db)
	count, err := calc.newConversionCount(context.Background(), dayStart, dayEnd)
	if err != nil {
		t.Fatalf("newConversionCount() error: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestKPI_FeatureAdoption(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"event_type", "users"}).
		AddRow("daily_dashboard_viewed", 300).
		AddRow("horoscope_viewed", 210).
		AddRow("tarot_drawn", 150).
		AddRow("astral_chat_used", 45)

	mock.ExpectQuery("GROUP BY ce.event_type").WillReturnRows(rows)

	calc := NewKPICalculator(db)
	adoption, err := calc.featureAdoption(context.Background(),
		time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC))
	if err != nil {
		t.Fatalf("featureAdoption() error: %v", err)
	}
	if adoption.DailyDashboard != 300 {
		t.Errorf("DailyDashboard = %d, want 300", adoption.DailyDashboard)
	}
	if adoption.Horoscope != 210 {
		t.Errorf("Horoscope = %d, want 210", adoption.Horoscope)
	}
	if adoption.AstralChat != 45 {
		t.Errorf("AstralChat = %d, want 45", adoption.AstralChat)
	}
	// Features with no events report zero.
	if adoption.Chart != 0 || adoption.Ritual != 0 {
		t.Errorf("absent features = %d/%d, want 0/0", adoption.Chart, adoption.Ritual)
	}
}

func TestKPI_ActivationRate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS count").WillReturnRows(countRows(20)) // signups
	mock.ExpectQuery("INTERVAL '7 days'").WillReturnRows(countRows(8))               // activated
	mock.ExpectQuery("stripe_subscription_id IS NOT NULL").
		WillReturnRows(sqlmock.NewRows([]string{"mrr", "active", "trial"}).AddRow(0.0, 0, 0))
	mock.ExpectQuery("FROM subscriptions s").WillReturnRows(countRows(0)) // conversions
	mock.ExpectQuery("GROUP BY ce.event_type").
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "users"}))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS count").WillReturnRows(countRows(5000)) // accounts

	calc := NewKPICalculator(db)
	kpis, err := calc.ComputeKPIs(context.Background(), day)
	if err != nil {
		t.Fatalf("ComputeKPIs() error: %v", err)
	}
	if kpis.ActivationRate != 40 {
		t.Errorf("ActivationRate = %v, want 40", kpis.ActivationRate)
	}
	if kpis.TotalAccounts != 5000 {
		t.Errorf("TotalAccounts = %d, want 5000", kpis.TotalAccounts)
	}
}
