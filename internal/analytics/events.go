package analytics

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Canonicalization errors. Both mean the event is rejected locally and
// never written.
var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrNoUser           = errors.New("event has no user or anonymous id")
)

// canonicalEventTypes is the closed set of event types the engine accepts.
var canonicalEventTypes = map[string]struct{}{
	"app_opened":                     {},
	"product_opened":                 {},
	"page_viewed":                    {},
	"cta_clicked":                    {},
	"user_signed_up":                 {},
	"user_logged_in":                 {},
	"nav_tab_clicked":                {},
	"dashboard_widget_cta_clicked":   {},
	"dashboard_widget_expanded":      {},
	"tarot_draw_started":             {},
	"tarot_card_drawn":               {},
	"tarot_reading_completed":        {},
	"tarot_patterns_viewed":          {},
	"tarot_patterns_range_selected":  {},
	"tarot_patterns_module_viewed":   {},
	"tarot_card_modal_opened":        {},
	"tarot_card_grimoire_clicked":    {},
	"horoscope_viewed":               {},
	"horoscope_section_expanded":     {},
	"birth_chart_learn_more_clicked": {},
	"journal_mode_activated":         {},
	"reflection_started":             {},
	"reflection_saved":               {},
	"book_of_shadows_tab_selected":   {},
	"archetype_modal_opened":         {},
	"collection_page_viewed":         {},
	"collection_filter_applied":      {},
	"collection_item_opened":         {},
	"guide_thread_prompt_shown":      {},
	"guide_thread_prompt_actioned":   {},
	"guide_assist_clicked":           {},
	"guide_message_sent":             {},
	"guide_to_journal_initiated":     {},
	"grimoire_viewed":                {},
	"chart_viewed":                   {},
	"daily_dashboard_viewed":         {},
	"astral_chat_used":               {},
	"tarot_drawn":                    {},
	"ritual_started":                 {},
	"signup_completed":               {},
	"subscription_started":           {},
	"subscription_cancelled":         {},
	"trial_started":                  {},
}

// legacyEventTypes maps retired event names onto their canonical
// replacements. The legacy name is preserved in metadata for auditability.
var legacyEventTypes = map[string]string{
	"birth_chart_viewed": "chart_viewed",
	"dashboard_viewed":   "daily_dashboard_viewed",
	"ai_chat":            "astral_chat_used",
	"tarot_viewed":       "tarot_drawn",
	"ritual_view":        "ritual_started",
	"signup":             "signup_completed",
	"trial_converted":    "subscription_started",
}

// oncePerDayTypes are event types whose repeats within one calendar day
// carry no extra signal. They get a deterministic dedup key so retries and
// duplicate submissions collapse to one stored row. High-frequency types
// (page views, feature interactions) keep a NULL key unless the client
// supplies its own idempotency id.
var oncePerDayTypes = map[string]struct{}{
	"app_opened":             {},
	"product_opened":         {},
	"user_logged_in":         {},
	"daily_dashboard_viewed": {},
}

// metadataBlockedKeys are never persisted (free-text conversation content).
var metadataBlockedKeys = map[string]struct{}{
	"message": {}, "messages": {}, "prompt": {}, "completion": {},
	"input": {}, "output": {}, "text": {}, "content": {},
	"conversation": {}, "thread": {}, "assistant": {}, "response": {},
}

// CanonicalizeEvent validates and normalizes a raw event. It resolves the
// user identity (signed-in id, else anon:<anonymousId>), maps legacy event
// types, and computes the deterministic dedup key for once-per-day types.
// Pure: no side effects, identical inputs always produce identical output.
func CanonicalizeEvent(raw RawEvent, now time.Time) (CanonicalEvent, error) {
	eventType, legacy, ok := canonicalizeEventType(raw.EventType)
	if !ok {
		return CanonicalEvent{}, fmt.Errorf("%w: %q", ErrUnknownEventType, raw.EventType)
	}

	anonymousID := strings.TrimSpace(raw.AnonymousID)
	userID := strings.TrimSpace(raw.UserID)
	if userID == "" && anonymousID != "" {
		userID = "anon:" + anonymousID
	}
	if userID == "" {
		return CanonicalEvent{}, ErrNoUser
	}

	createdAt := now.UTC()
	if raw.CreatedAt != nil && !raw.CreatedAt.IsZero() {
		createdAt = raw.CreatedAt.UTC()
	}

	pagePath := NormalizePath(raw.PagePath)

	entityType := strings.TrimSpace(raw.EntityType)
	entityID := strings.TrimSpace(raw.EntityID)
	if eventType == "grimoire_viewed" {
		if entityType == "" {
			entityType = "grimoire"
		}
		if entityID == "" {
			entityID = extractGrimoireEntityID(pagePath)
		}
	}

	eventID := strings.TrimSpace(raw.EventID)
	if eventID == "" {
		if _, once := oncePerDayTypes[eventType]; once {
			eventID = DeterministicEventID(eventType, userID, createdAt.Format("2006-01-02"))
		}
	}

	return CanonicalEvent{
		EventType:          eventType,
		EventID:            eventID,
		UserID:             userID,
		AnonymousID:        anonymousID,
		UserEmail:          normalizeEmail(raw.UserEmail),
		PlanType:           strings.TrimSpace(raw.PlanType),
		TrialDaysRemaining: raw.TrialDaysRemaining,
		FeatureName:        strings.TrimSpace(raw.FeatureName),
		PagePath:           pagePath,
		EntityType:         entityType,
		EntityID:           entityID,
		Metadata:           sanitizeMetadata(eventType, raw.Metadata, legacy),
		CreatedAt:          createdAt,
	}, nil
}

func canonicalizeEventType(raw string) (eventType, legacy string, ok bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", "", false
	}
	if _, found := canonicalEventTypes[value]; found {
		return value, "", true
	}
	if mapped, found := legacyEventTypes[value]; found {
		return mapped, value, true
	}
	return "", "", false
}

// NormalizePath accepts either a pathname or a full URL and returns the
// bare path with query, fragment and trailing slashes stripped.
func NormalizePath(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if u, err := url.Parse(trimmed); err == nil && u.Scheme != "" && u.Host != "" {
		trimmed = u.Path
	} else {
		if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
			trimmed = trimmed[:i]
		}
	}

	trimmed = strings.TrimRight(trimmed, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// extractGrimoireEntityID returns a stable slug key for grimoire page
// routes: /grimoire/houses/mars -> houses/mars, bare /grimoire -> "".
func extractGrimoireEntityID(pagePath string) string {
	if !strings.HasPrefix(pagePath, "/grimoire") {
		return ""
	}
	rest := strings.TrimPrefix(pagePath, "/grimoire")
	rest = strings.Trim(rest, "/")
	return rest
}

// sanitizeMetadata keeps simple primitive values and drops anything that
// could carry conversation content. The legacy event type, when present,
// is recorded alongside the canonical one.
func sanitizeMetadata(eventType string, metadata map[string]any, legacy string) map[string]any {
	result := map[string]any{
		"canonical_event_type": eventType,
	}
	if legacy != "" {
		result["legacy_event_type"] = legacy
	}

	for key, value := range metadata {
		if _, blocked := metadataBlockedKeys[key]; blocked {
			continue
		}
		switch value.(type) {
		case string, bool, int, int64, float64, nil:
			result[key] = value
		}
	}
	return result
}
