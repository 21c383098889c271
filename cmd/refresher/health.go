package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/instrument-refresh/internal/job"
)

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(j *job.Job, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := j.Store().Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["store"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["store"] = "connected"
		}

		health.Components["providers"] = j.Providers()
		health.Components["existence_quorum"] = map[string]bool{"reachable": j.QuorumReachable()}
		if !j.QuorumReachable() && health.Status == "healthy" {
			health.Status = "degraded"
		}

		lastRun := map[string]any{"running": j.Running()}
		if report, ok := j.LastReport(); ok {
			lastRun["run_id"] = report.RunID
			lastRun["started_at"] = report.StartedAt
			lastRun["partial"] = report.Partial()
			if report.Partial() && health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
		health.Components["last_run"] = lastRun

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("write health response", "err", err)
		}
	})

	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		report, ok := j.LastReport()
		if !ok {
			http.Error(w, "no run has finished yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Debug("write report response", "err", err)
		}
	})

	return mux
}
