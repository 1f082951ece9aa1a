package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lunary/engagement-metrics/internal/analytics"
)

const maxBatchSize = 500

// EventsService ingests raw product events into the event log.
type EventsService struct {
	store *analytics.EventStore
	now   func() time.Time
}

// NewEventsService wires the event ingestion HTTP surface.
func NewEventsService(store *analytics.EventStore) *EventsService {
	return &EventsService{store: store, now: time.Now}
}

// RegisterRoutes mounts the ingestion endpoints on the router.
func (s *EventsService) RegisterRoutes(r chi.Router) {
	r.Post("/api/events", s.HandleTrackEvent)
	r.Post("/api/events/batch", s.HandleTrackEventsBatch)
}

// HandleTrackEvent canonicalizes and stores one event. Duplicate delivery
// of the same event key reports inserted=false but still succeeds.
func (s *EventsService) HandleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var raw analytics.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	event, err := analytics.CanonicalizeEvent(raw, s.now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted, err := s.store.InsertEvent(r.Context(), event)
	if err != nil {
		log.Printf("[api] event insert failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"inserted": inserted,
	})
}

// HandleTrackEventsBatch ingests up to maxBatchSize events in one request.
// Events that fail canonicalization are skipped and reported, not fatal:
// the valid remainder still lands.
func (s *EventsService) HandleTrackEventsBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Events []analytics.RawEvent `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payload.Events) == 0 {
		respondError(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(payload.Events) > maxBatchSize {
		respondError(w, http.StatusBadRequest, "batch too large")
		return
	}

	batchID := uuid.New().String()
	now := s.now()

	events := make([]analytics.CanonicalEvent, 0, len(payload.Events))
	skipped := 0
	for _, raw := range payload.Events {
		event, err := analytics.CanonicalizeEvent(raw, now)
		if err != nil {
			if !errors.Is(err, analytics.ErrUnknownEventType) && !errors.Is(err, analytics.ErrNoUser) {
				log.Printf("[api] batch %s: canonicalize: %v", batchID, err)
			}
			skipped++
			continue
		}
		events = append(events, event)
	}

	inserted, duplicates := 0, 0
	if len(events) > 0 {
		var err error
		inserted, duplicates, err = s.store.InsertEventsBatch(r.Context(), events)
		if err != nil {
			log.Printf("[api] batch %s insert failed: %v", batchID, err)
			respondError(w, http.StatusInternalServerError, "failed to store events")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"batchId":    batchID,
		"inserted":   inserted,
		"duplicates": duplicates,
		"skipped":    skipped,
	})
}
