package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": h.service,
	}

	if h.worker != nil {
		body["worker_id"] = h.worker.ID()
		body["stats"] = h.worker.Stats()
	}

	c.JSON(http.StatusOK, body)
}

// Ready handles GET /ready
// Reports ready only when both the database and the queue are reachable
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := gin.H{}
	ready := true

	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if err := h.database.HealthCheck(ctx); err != nil {
		h.logger.Warn("Database not ready", slog.Any("error", err))
		checks["database"] = err.Error()
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if h.queue.IsConnected() {
		checks["rabbitmq"] = "ok"
	} else {
		checks["rabbitmq"] = "disconnected"
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
	})
}
