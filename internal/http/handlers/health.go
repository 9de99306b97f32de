package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atendeai/clinic-assistant/internal/conversation"
)

// HealthHandler reports service liveness and dependency reachability.
type HealthHandler struct {
	redis *redis.Client
	llm   conversation.LLMClient
}

// NewHealthHandler creates the handler. Both dependencies are optional.
func NewHealthHandler(rdb *redis.Client, llm conversation.LLMClient) *HealthHandler {
	return &HealthHandler{redis: rdb, llm: llm}
}

// Liveness answers 200 as long as the process serves requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks Redis and the LLM provider. A degraded LLM keeps the
// service ready: the pipeline falls back to keyword analysis.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"service": "ok"}
	status := http.StatusOK

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}
	if h.llm != nil {
		if err := h.llm.HealthCheck(ctx); err != nil {
			checks["llm"] = "degraded"
		} else {
			checks["llm"] = "ok"
		}
	}
	writeJSON(w, status, checks)
}
