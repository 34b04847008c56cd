package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is satisfied by *db.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves liveness and build information. With a DB set, health
// also reports database reachability.
type SystemHandler struct {
	DB Pinger
}

type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database,omitempty"`
}

func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: "mockprep"}
	if h.DB == nil {
		writeJSON(w, resp, http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		logger.Warn("health: database unreachable", slog.Any("err", err))
		resp.Status, resp.Database = "degraded", "unreachable"
		writeJSON(w, resp, http.StatusServiceUnavailable)
		return
	}
	resp.Database = "ok"
	writeJSON(w, resp, http.StatusOK)
}

func (h *SystemHandler) VersionHandler(version, buildTime string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": version, "buildTime": buildTime}, http.StatusOK)
	}
}
