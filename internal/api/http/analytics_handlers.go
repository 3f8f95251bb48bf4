package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

// GET /analytics/dashboard
// Counts, average percentage over scored attempts and the latest attempts.
func DashboardHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Dashboard(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, d)
	}
}

// GET /analytics/tests
func TestStatsHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.TestStats(r.Context())
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

// GET /analytics/leaderboard/{testID}?limit=100
// Best score per user. Callers without analytics:view only see released
// results on published tests.
func LeaderboardHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := rbac.Can(r.Context(), rbac.PermAnalyticsView)
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		list, err := svc.Leaderboard(r.Context(), chi.URLParam(r, "testID"), admin, limit)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}
