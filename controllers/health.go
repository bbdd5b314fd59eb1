package controllers

import (
	"context"
	"net/http"
	"time"

	"attendance-recorder/repository"
	"attendance-recorder/utils"
)

type HealthController struct {
	Timeout time.Duration
}

const defaultHealthTimeout = 2 * time.Second

func (hc HealthController) Health(store repository.AttendanceStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timeout := hc.Timeout
		if timeout <= 0 {
			timeout = defaultHealthTimeout
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			utils.Logger(r.Context()).WithError(err).Warn("health check failed")
			utils.ResponseJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		utils.ResponseJSON(w, map[string]string{"status": "ok"})
	}
}
