package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BranchIntl/jobworker/core"
)

type healthChecker interface {
	Health() core.HealthStatus
}

// healthResponse is the JSON body for /healthz
type healthResponse struct {
	Status         string            `json:"status"`
	Statistics     string            `json:"statistics,omitempty"`
	Gateways       map[string]string `json:"gateways,omitempty"`
	Workers        map[string]string `json:"workers"`
	ActiveHandlers int64             `json:"active_handlers"`
	CheckedAt      time.Time         `json:"checked_at"`
}

func newRouter(engine healthChecker, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Hello World!"))
	})
	r.Get("/healthz", healthzHandler(engine))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// healthzHandler returns 200 when every gateway and the statistics backend
// are healthy, 503 otherwise
func healthzHandler(engine healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := engine.Health()

		resp := healthResponse{
			Status:         "ok",
			Workers:        make(map[string]string, len(status.Workers)),
			ActiveHandlers: status.ActiveHandlers,
			CheckedAt:      status.LastCheck,
		}
		code := http.StatusOK
		if !status.Healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}

		for jobType, state := range status.Workers {
			resp.Workers[jobType] = state.String()
		}
		for jobType, err := range status.GatewayHealth {
			if err == nil {
				continue
			}
			if resp.Gateways == nil {
				resp.Gateways = make(map[string]string)
			}
			resp.Gateways[jobType] = err.Error()
		}
		if status.StatsHealth != nil {
			resp.Statistics = status.StatsHealth.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
