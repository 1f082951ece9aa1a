package analytics

import "time"

// RawEvent is an activity event as submitted by a client, before
// canonicalization. All fields except EventType are optional.
type RawEvent struct {
	EventType          string         `json:"event_type"`
	EventID            string         `json:"event_id,omitempty"`
	UserID             string         `json:"user_id,omitempty"`
	AnonymousID        string         `json:"anonymous_id,omitempty"`
	UserEmail          string         `json:"user_email,omitempty"`
	PlanType           string         `json:"plan_type,omitempty"`
	TrialDaysRemaining *int           `json:"trial_days_remaining,omitempty"`
	FeatureName        string         `json:"feature_name,omitempty"`
	PagePath           string         `json:"page_path,omitempty"`
	EntityType         string         `json:"entity_type,omitempty"`
	EntityID           string         `json:"entity_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          *time.Time     `json:"created_at,omitempty"`
}

// CanonicalEvent is the normalized, insert-ready form of an activity event.
// EventID is the deduplication key; an empty EventID is stored as SQL NULL
// and never conflicts with anything.
type CanonicalEvent struct {
	EventType          string
	EventID            string
	UserID             string
	AnonymousID        string
	UserEmail          string
	PlanType           string
	TrialDaysRemaining *int
	FeatureName        string
	PagePath           string
	EntityType         string
	EntityID           string
	Metadata           map[string]any
	CreatedAt          time.Time
}
