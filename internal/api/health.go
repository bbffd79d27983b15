package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libris-ai/libris/internal/log"
)

// health reports process liveness for container probes.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness reports whether the server can take traffic. With a pool
// configured it pings the database; a failed ping returns 503.
func readiness(pool *pgxpool.Pool, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				logger.Warn("readiness ping failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	}
}
