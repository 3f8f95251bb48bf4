package http

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mind-engage/mindengage-quiz/internal/cache"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// GET /readyz. The database is required; the cache only degrades.
func ReadyHandler(db pinger, c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		out := map[string]string{"db": "ok", "cache": "disabled"}
		if err := db.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("readiness: database unreachable")
			out["db"] = "error"
			respondJSON(w, http.StatusServiceUnavailable, out)
			return
		}
		if c.Enabled() {
			out["cache"] = "ok"
			if err := c.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("readiness: cache unreachable")
				out["cache"] = "degraded"
			}
		}
		respondJSON(w, http.StatusOK, out)
	}
}
