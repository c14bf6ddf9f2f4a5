package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	DB     *sql.DB
	Checks map[string]func(context.Context) error
}

// Live handles GET /healthz.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz. It reports 503 when the database or any
// registered dependency does not answer within two seconds.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ok := true
	report := func(name string, err error) {
		if err != nil {
			ok = false
			checks[name] = err.Error()
			slog.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			return
		}
		checks[name] = "ok"
	}

	report("database", h.DB.PingContext(ctx))
	for name, check := range h.Checks {
		report(name, check(ctx))
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	jsonResponse(w, status, map[string]any{"ready": ok, "checks": checks})
}
