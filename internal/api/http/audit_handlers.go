package http

import (
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
)

// GET /admin/audit?key=<attempt or test id>
// Returns the audit trail for one attempt or test, oldest first.
func AuditHandler(events *eventlog.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		if key == "" {
			http.Error(w, "key required", http.StatusBadRequest)
			return
		}
		list, err := events.ByKey(r.Context(), key)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if list == nil {
			list = []eventlog.Event{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}
