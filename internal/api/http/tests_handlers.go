package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
	"github.com/mind-engage/mindengage-quiz/internal/release"
)

// POST /tests creates or replaces a test with its questions.
func PutTestHandler(svc *quiz.Service, gate *release.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t quiz.Test
		if !decodeJSON(w, r, &t) {
			return
		}
		saved, err := svc.PutTest(r.Context(), t)
		if err != nil {
			respondError(w, r, err)
			return
		}
		gate.Forget(r.Context(), saved.ID)
		respondJSON(w, http.StatusOK, saved)
	}
}

// GET /tests/{testID}?attempt_id=...
// Authors get the full test. Everyone else gets the student view, ordered
// for the given attempt when the test shuffles.
func GetTestHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "testID"))
		var (
			t   quiz.Test
			err error
		)
		if rbac.Can(r.Context(), rbac.PermTestAuthor) {
			t, err = svc.GetTest(r.Context(), id)
		} else {
			seed := strings.TrimSpace(r.URL.Query().Get("attempt_id"))
			if seed == "" {
				seed = authmw.SubjectFromContext(r.Context())
			}
			t, err = svc.GetTestForStudent(r.Context(), id, seed)
		}
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, t)
	}
}

// POST /tests/{testID}/release-results
func ReleaseTestHandler(gate *release.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, "testID"))
		n, err := gate.ReleaseTest(r.Context(), id, authmw.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]int64{"affected_attempts": n})
	}
}
