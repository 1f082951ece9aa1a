package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventStore writes canonical events to the append-only conversion_events
// table. It is the only component that writes that table.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an event store over the shared database handle.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// InsertEvent writes one canonical event. The unique index on event_id
// makes this an atomic compare-and-insert: if a row with the same non-null
// key exists the write is a no-op and inserted is false. Events with an
// empty (NULL) key always insert; NULLs never conflict with each other.
func (s *EventStore) InsertEvent(ctx context.Context, ev CanonicalEvent) (bool, error) {
	metadata, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return false, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO conversion_events (
			event_type, event_id, user_id, anonymous_id, user_email,
			plan_type, trial_days_remaining, feature_name, page_path,
			entity_type, entity_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`,
		ev.EventType, nullable(ev.EventID), ev.UserID, nullable(ev.AnonymousID),
		nullable(ev.UserEmail), nullable(ev.PlanType), ev.TrialDaysRemaining,
		nullable(ev.FeatureName), nullable(ev.PagePath), nullable(ev.EntityType),
		nullable(ev.EntityID), metadata, ev.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return true, nil
}

// InsertEventsBatch writes a batch of canonical events in one statement,
// returning how many inserted and how many were duplicates of existing
// rows. Deduplication semantics match InsertEvent.
func (s *EventStore) InsertEventsBatch(ctx context.Context, events []CanonicalEvent) (inserted, duplicates int, err error) {
	if len(events) == 0 {
		return 0, 0, nil
	}

	var values []string
	var params []any
	push := func(v any) string {
		params = append(params, v)
		return fmt.Sprintf("$%d", len(params))
	}

	for _, ev := range events {
		metadata, err := marshalMetadata(ev.Metadata)
		if err != nil {
			return 0, 0, err
		}
		values = append(values, fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)",
			push(ev.EventType), push(nullable(ev.EventID)), push(ev.UserID),
			push(nullable(ev.AnonymousID)), push(nullable(ev.UserEmail)),
			push(nullable(ev.PlanType)), push(ev.TrialDaysRemaining),
			push(nullable(ev.FeatureName)), push(nullable(ev.PagePath)),
			push(nullable(ev.EntityType)), push(nullable(ev.EntityID)),
			push(metadata), push(ev.CreatedAt)))
	}

	query := `
		INSERT INTO conversion_events (
			event_type, event_id, user_id, anonymous_id, user_email,
			plan_type, trial_days_remaining, feature_name, page_path,
			entity_type, entity_id, metadata, created_at
		) VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (event_id) DO NOTHING
		RETURNING 1`

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return 0, 0, fmt.Errorf("insert events batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		inserted++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("insert events batch: %w", err)
	}
	return inserted, len(events) - inserted, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalMetadata(metadata map[string]any) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}
