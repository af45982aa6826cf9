package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/mlclient"
	"github.com/stitts-dev/fpl-engine/internal/types"
	"github.com/stitts-dev/fpl-engine/pkg/database"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db     *database.DB
	redis  *redis.Client
	ml     *mlclient.Client
	logger *logrus.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(
	db *database.DB,
	redisClient *redis.Client,
	ml *mlclient.Client,
	logger *logrus.Logger,
) *HealthHandler {
	return &HealthHandler{
		db:     db,
		redis:  redisClient,
		ml:     ml,
		logger: logger,
	}
}

// GetHealth returns the basic health status
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := types.HealthStatus{
		Status:    "ok",
		Service:   "fpl-engine",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	// Database holds history and projections; the service is unhealthy
	// without it.
	if err := h.db.HealthCheck(); err != nil {
		response.Status = "unhealthy"
		response.Checks["database"] = "failed: " + err.Error()
	} else {
		response.Checks["database"] = "ok"
	}

	// Cache loss only costs latency.
	if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
		if response.Status == "ok" {
			response.Status = "degraded"
		}
		response.Checks["redis"] = "failed: " + err.Error()
	} else {
		response.Checks["redis"] = "ok"
	}

	// The model service is optional: the heuristic engine covers its
	// absence, so a failed check only degrades.
	if health, err := h.ml.Health(c.Request.Context()); err != nil {
		if response.Status == "ok" {
			response.Status = "degraded"
		}
		response.Checks["model_service"] = "failed: " + err.Error()
	} else {
		response.Checks["model_service"] = "ok"
		response.Checks["model_version"] = health.ModelVersion
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	} else if response.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}

	c.JSON(statusCode, response)
}

// GetReady returns the readiness status
func (h *HealthHandler) GetReady(c *gin.Context) {
	response := types.HealthStatus{
		Status:    "ready",
		Service:   "fpl-engine",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	if err := h.db.HealthCheck(); err != nil {
		response.Status = "not_ready"
		response.Checks["database"] = "failed: " + err.Error()
	} else {
		response.Checks["database"] = "ok"
	}

	if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
		// Forecasts still work without the cache
		response.Checks["redis"] = "failed: " + err.Error()
	} else {
		response.Checks["redis"] = "ok"
	}

	statusCode := http.StatusOK
	if response.Status != "ready" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
