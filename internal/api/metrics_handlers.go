package api

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lunary/engagement-metrics/internal/analytics"
	"github.com/lunary/engagement-metrics/internal/cache"
)

// MetricsService exposes the compute cron endpoint and dashboard reads.
type MetricsService struct {
	engine     *analytics.Engine
	store      *analytics.MetricsStore
	cache      *cache.MetricsCache
	cronSecret string
}

// NewMetricsService wires the metrics HTTP surface. cronSecret may be
// empty, which leaves the compute endpoint open (local dev).
func NewMetricsService(engine *analytics.Engine, store *analytics.MetricsStore, metricsCache *cache.MetricsCache, cronSecret string) *MetricsService {
	return &MetricsService{
		engine:     engine,
		store:      store,
		cache:      metricsCache,
		cronSecret: cronSecret,
	}
}

// RegisterRoutes mounts the metrics endpoints on the router.
func (s *MetricsService) RegisterRoutes(r chi.Router) {
	r.Get("/api/cron/compute-metrics", s.HandleComputeMetrics)
	r.Get("/api/metrics/latest", s.HandleLatestMetrics)
}

// HandleComputeMetrics runs the daily computation. An optional ?date=
// parameter (YYYY-MM-DD) selects the target day; it defaults to yesterday
// UTC. When a cron secret is configured the request must carry it as a
// bearer token.
func (s *MetricsService) HandleComputeMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	day := s.engine.DefaultTargetDay()
	if dateParam := r.URL.Query().Get("date"); dateParam != "" {
		parsed, err := time.Parse("2006-01-02", dateParam)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		day = parsed
	}

	started := time.Now()
	result, err := s.engine.ComputeDay(r.Context(), day)
	if err != nil {
		log.Printf("[api] compute-metrics failed: %v", err)
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    err.Error(),
			"duration": time.Since(started).Milliseconds(),
		})
		return
	}

	if s.cache != nil {
		if err := s.cache.SetLatest(r.Context(), result.Metrics); err != nil {
			log.Printf("[api] cache refresh failed: %v", err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"date":                result.Date.Format("2006-01-02"),
		"metrics":             result.Summary,
		"computationDuration": result.Metrics.ComputationDurationMs,
	})
}

// HandleLatestMetrics serves the most recent daily_metrics row, preferring
// the cache.
func (s *MetricsService) HandleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	if s.cache != nil {
		if m, err := s.cache.GetLatest(r.Context()); err != nil {
			log.Printf("[api] cache read failed: %v", err)
		} else if m != nil {
			respondJSON(w, http.StatusOK, m)
			return
		}
	}

	m, err := s.store.GetLatest(r.Context())
	if err != nil {
		log.Printf("[api] latest metrics read failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load metrics")
		return
	}
	if m == nil {
		respondError(w, http.StatusNotFound, "no metrics computed yet")
		return
	}

	if s.cache != nil {
		if err := s.cache.SetLatest(r.Context(), m); err != nil {
			log.Printf("[api] cache backfill failed: %v", err)
		}
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *MetricsService) authorized(r *http.Request) bool {
	if s.cronSecret == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message})
}
