package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports the MQTT connection state.
type BrokerStatus interface {
	IsConnected() bool
}

// CacheStatus is the metadata cache's L2 state.
type CacheStatus interface {
	HasRedis() bool
	Ping(ctx context.Context) error
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Prompts       []string          `json:"prompt_overrides,omitempty"`
}

type HealthHandler struct {
	db        Pinger
	mqtt      BrokerStatus // nil when not configured
	cache     CacheStatus  // nil when not configured
	prompts   func() []string
	version   string
	startTime time.Time
}

func NewHealthHandler(db Pinger, mqtt BrokerStatus, cache CacheStatus, prompts func() []string, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		cache:     cache,
		prompts:   prompts,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	// Database check
	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Cache check (L1 always works; only Redis can fail)
	if h.cache != nil && h.cache.HasRedis() {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.cache.Ping(ctx)
		cancel()
		if err != nil {
			checks["cache"] = "error"
			degrade()
		} else {
			checks["cache"] = "ok"
		}
	} else {
		checks["cache"] = "memory_only"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.prompts != nil {
		resp.Prompts = h.prompts()
	}

	WriteJSON(w, httpStatus, resp)
}
