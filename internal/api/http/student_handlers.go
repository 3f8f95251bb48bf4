package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
	"github.com/mind-engage/mindengage-quiz/internal/release"
)

func viewer(r *http.Request) release.Viewer {
	return release.Viewer{
		ID:    authmw.SubjectFromContext(r.Context()),
		Admin: rbac.Can(r.Context(), rbac.PermAttemptViewAll),
	}
}

// viewAttempt renders a for v with the test's release settings applied.
func viewAttempt(ctx context.Context, svc *quiz.Service, gate *release.Gate, a quiz.Attempt, v release.Viewer) (release.AttemptView, error) {
	t, err := gate.Test(ctx, a.TestID)
	if err != nil {
		return release.AttemptView{}, err
	}
	answers, err := svc.ListAnswers(ctx, a.ID)
	if err != nil {
		return release.AttemptView{}, err
	}
	return release.View(a, answers, t, v), nil
}

// POST /attempts {test_id}
func CreateAttemptHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TestID string `json:"test_id"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.TestID) == "" {
			http.Error(w, "test_id required", http.StatusBadRequest)
			return
		}
		a, err := svc.Start(r.Context(), req.TestID, authmw.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, a)
	}
}

// POST /attempts/{attemptID}/answer {question_id, response_json, time_spent}
func SaveAnswerHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		var in quiz.AnswerInput
		if !decodeJSON(w, r, &in) {
			return
		}
		if strings.TrimSpace(in.QuestionID) == "" {
			http.Error(w, "question_id required", http.StatusBadRequest)
			return
		}
		ans, err := svc.SaveAnswer(r.Context(), id, authmw.SubjectFromContext(r.Context()), in)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"attempt_id":         ans.AttemptID,
			"question_id":        ans.QuestionID,
			"response_json":      ans.Response,
			"time_spent_seconds": ans.TimeSpentSeconds,
			"updated_at":         ans.UpdatedAt,
		})
	}
}

// POST /attempts/{attemptID}/submit
// 202 when scoring was queued, 200 when it already ran inline.
func SubmitAttemptHandler(svc *quiz.Service, gate *release.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		v := viewer(r)
		a, queued, err := svc.Submit(r.Context(), id, v.ID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		view, err := viewAttempt(r.Context(), svc, gate, a, v)
		if err != nil {
			respondError(w, r, err)
			return
		}
		status := http.StatusOK
		if queued {
			status = http.StatusAccepted
		}
		respondJSON(w, status, view)
	}
}

// GET /attempts/{attemptID} (owner or admin)
func GetAttemptHandler(svc *quiz.Service, gate *release.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		v := viewer(r)
		a, err := svc.GetAttempt(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if !v.Admin && a.UserID != v.ID {
			http.Error(w, "forbidden", http.StatusForbidden)
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
