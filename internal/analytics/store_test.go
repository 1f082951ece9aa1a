package analytics

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var errTestQuery = errors.New("query failed")

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	return db, mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	}
}

func testEvent(eventID string) CanonicalEvent {
	return CanonicalEvent{
		EventType: "app_opened",
		EventID:   eventID,
		UserID:    "u1",
		CreatedAt: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestEventStore_InsertEvent_New(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO conversion_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	store := NewEventStore(db)
	inserted, err := store.InsertEvent(context.Background(), testEvent("evt-1"))
	if err != nil {
		t.Fatalf("InsertEvent() error: %v", err)
	}
	if !inserted {
		t.Error("first insert should report inserted=true")
	}
}

func TestEventStore_InsertEvent_Duplicate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// ON CONFLICT DO NOTHING yields zero rows from RETURNING.
	mock.ExpectQuery("INSERT INTO conversion_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewEventStore(db)
	inserted, err := store.InsertEvent(context.Background(), testEvent("evt-1"))
	if err != nil {
		t.Fatalf("duplicate InsertEvent() error: %v", err)
	}
	if inserted {
		t.Error("duplicate insert should report inserted=false")
	}
}

func TestEventStore_InsertEvent_NullEventID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// Empty EventID must be bound as NULL so the unique index ignores it.
	mock.ExpectQuery("INSERT INTO conversion_events").
		WithArgs("app_opened", nil, "u1", nil, nil, nil, nil, nil, nil, nil, nil, nil,
			time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	store := NewEventStore(db)
	inserted, err := store.InsertEvent(context.Background(), testEvent(""))
	if err != nil {
		t.Fatalf("InsertEvent() error: %v", err)
	}
	if !inserted {
		t.Error("NULL-keyed event should always insert")
	}
}

func TestEventStore_InsertEventsBatch(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// Three events, one collides: two RETURNING rows.
	mock.ExpectQuery("INSERT INTO conversion_events").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1).AddRow(1))

	store := NewEventStore(db)
	events := []CanonicalEvent{testEvent("evt-1"), testEvent("evt-2"), testEvent("evt-1")}
	inserted, duplicates, err := store.InsertEventsBatch(context.Background(), events)
	if err != nil {
		t.Fatalf("InsertEventsBatch() error: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}
	if duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", duplicates)
	}
}

func TestEventStore_InsertEventsBatch_Empty(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEventStore(db)
	inserted, duplicates, err := store.InsertEventsBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty batch error: %v", err)
	}
	if inserted != 0 || duplicates != 0 {
		t.Errorf("empty batch = (%d, %d), want (0, 0)", inserted, duplicates)
	}
}
