package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
	"github.com/mind-engage/mindengage-quiz/internal/release"
)

// GET /attempts/{attemptID}/grading
// Owners see state and progress; the result and failure reason are
// admin-only.
func GradingStatusHandler(svc *quiz.Service, jobs JobStatuses) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		v := viewer(r)
		admin := rbac.Can(r.Context(), rbac.PermGradingInternal)

		a, err := svc.GetAttempt(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if !admin && a.UserID != v.ID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if jobs == nil {
			http.Error(w, "grading runs inline; no job to report", http.StatusNotFound)
			return
		}
		st, err := jobs.GetStatus(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if !admin {
			st.Result = nil
			st.FailedReason = ""
		}
		respondJSON(w, http.StatusOK, st)
	}
}

// PATCH /attempts/{attemptID}/answers/{questionID} {awarded_points}
func ManualGradeHandler(svc *quiz.Service, gate *release.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := strings.TrimSpace(chi.URLParam(r, "attemptID"))
		questionID := strings.TrimSpace(chi.URLParam(r, "questionID"))
		var req struct {
			AwardedPoints *float64 `json:"awarded_points"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.AwardedPoints == nil {
			http.Error(w, "awarded_points required", http.StatusBadRequest)
			return
		}
		v := viewer(r)
		a, err := svc.ManualGrade(r.Context(), attemptID, questionID, *req.AwardedPoints, v.ID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		view, err := viewAttempt(r.Context(), svc, gate, a, v)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, view)
	}
}

// POST /attempts/{attemptID}/rescore
func RescoreHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		queued, err := svc.Rescore(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		status := http.StatusOK
		if queued {
			status = http.StatusAccepted
		}
		respondJSON(w, status, map[string]any{"attempt_id": id, "queued": queued})
	}
}

// POST /attempts/{attemptID}/release-result
func ReleaseAttemptHandler(svc *quiz.Service, gate *release.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		v := viewer(r)
		a, err := gate.ReleaseAttempt(r.Context(), id, v.ID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		view, err := viewAttempt(r.Context(), svc, gate, a, v)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, view)
	}
}
