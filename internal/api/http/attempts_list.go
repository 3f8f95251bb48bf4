package http

import (
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/release"
)

// GET /attempts?test_id=...&user_id=...&status=...&limit=50&offset=0
// RBAC:
// - attempt:view-all can list with any filters
// - attempt:view-own only sees their own attempts (user_id is forced to subject)
func ListAttemptsHandler(svc *quiz.Service, gate *release.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := viewer(r)
		q := r.URL.Query()
		opts := quiz.AttemptListOpts{
			TestID: strings.TrimSpace(q.Get("test_id")),
			UserID: strings.TrimSpace(q.Get("user_id")),
			Status: quiz.Status(strings.TrimSpace(q.Get("status"))),
			Limit:  parseIntDefault(q.Get("limit"), 50),
			Offset: parseIntDefault(q.Get("offset"), 0),
		}
		if !v.Admin {
			opts.UserID = v.ID
		}

		list, err := svc.ListAttempts(r.Context(), opts)
		if err != nil {
			respondError(w, r, err)
			return
		}
		tests := map[string]quiz.Test{}
		out := make([]release.AttemptView, 0, len(list))
		for _, a := range list {
			t, ok := tests[a.TestID]
			if !ok {
				if t, err = gate.Test(r.Context(), a.TestID); err != nil {
					respondError(w, r, err)
					return
				}
				tests[a.TestID] = t
			}
			view := release.View(a, nil, t, v)
			view.Answers = nil // summaries only
			out = append(out, view)
		}
		respondJSON(w, http.StatusOK, out)
	}
}
