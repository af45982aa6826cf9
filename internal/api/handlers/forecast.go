package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/cache"
	"github.com/stitts-dev/fpl-engine/internal/forecast"
	"github.com/stitts-dev/fpl-engine/internal/storage"
	"github.com/stitts-dev/fpl-engine/internal/types"
)

// ForecastHandler handles xMins forecast endpoints
type ForecastHandler struct {
	players      *storage.PlayerStore
	projections  *storage.ProjectionStore
	history      *storage.HistoryStore
	orchestrator *forecast.Orchestrator
	batch        *forecast.BatchGenerator
	cache        *cache.ProjectionCacheService
	logger       *logrus.Logger
}

// NewForecastHandler creates a new forecast handler
func NewForecastHandler(
	players *storage.PlayerStore,
	projections *storage.ProjectionStore,
	history *storage.HistoryStore,
	orchestrator *forecast.Orchestrator,
	batch *forecast.BatchGenerator,
	cacheService *cache.ProjectionCacheService,
	logger *logrus.Logger,
) *ForecastHandler {
	return &ForecastHandler{
		players:      players,
		projections:  projections,
		history:      history,
		orchestrator: orchestrator,
		batch:        batch,
		cache:        cacheService,
		logger:       logger,
	}
}

// ForecastResponse is the single-player forecast payload.
type ForecastResponse struct {
	PlayerID        uint                     `json:"player_id"`
	CurrentGameweek int                      `json:"current_gameweek"`
	Projections     []types.WeeklyProjection `json:"projections"`
	FromCache       bool                     `json:"from_cache"`
}

// GenerateForecast handles single-player multi-week forecast requests
func (h *ForecastHandler) GenerateForecast(c *gin.Context) {
	playerID, err := strconv.ParseUint(c.Param("playerID"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Invalid player ID",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	currentGameweek, err := strconv.Atoi(c.Query("gameweek"))
	if err != nil || currentGameweek < 1 {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Query parameter 'gameweek' must be a positive integer",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	ctx := c.Request.Context()

	if cached, err := h.cache.GetForecast(ctx, uint(playerID), currentGameweek); err == nil {
		c.JSON(http.StatusOK, ForecastResponse{
			PlayerID:        uint(playerID),
			CurrentGameweek: currentGameweek,
			Projections:     cached,
			FromCache:       true,
		})
		return
	}

	player, err := h.players.Get(ctx, uint(playerID))
	if err != nil {
		h.logger.WithError(err).Error("Failed to load player")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "Failed to load player",
			Code:  "STORAGE_ERROR",
		})
		return
	}
	if player == nil {
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error: "Player not found",
			Code:  "NOT_FOUND",
		})
		return
	}

	projections, err := h.orchestrator.Forecast(ctx, player, currentGameweek)
	if err != nil {
		h.logger.WithError(err).WithField("player_id", player.ID).Error("Forecast failed")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "Forecast generation failed",
			Code:  "FORECAST_ERROR",
			Details: map[string]string{
				"error": err.Error(),
			},
		})
		return
	}

	if err := h.projections.BulkUpsert(ctx, projections); err != nil {
		h.logger.WithError(err).WithField("player_id", player.ID).Error("Failed to store projections")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "Failed to store projections",
			Code:  "STORAGE_ERROR",
		})
		return
	}

	if err := h.cache.SetForecast(ctx, player.ID, currentGameweek, projections); err != nil {
		// Cache writes are best effort
		h.logger.WithError(err).Warn("Failed to cache forecast")
	}

	c.JSON(http.StatusOK, ForecastResponse{
		PlayerID:        player.ID,
		CurrentGameweek: currentGameweek,
		Projections:     projections,
	})
}

// BatchForecastRequest is the batch generation payload.
type BatchForecastRequest struct {
	PlayerIDs       []uint `json:"player_ids" binding:"required,min=1"`
	CurrentGameweek int    `json:"current_gameweek" binding:"required,min=1"`
}

// GenerateBatch handles batch forecast generation requests
func (h *ForecastHandler) GenerateBatch(c *gin.Context) {
	var req BatchForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Invalid request format",
			Code:  "INVALID_REQUEST",
			Details: map[string]string{
				"validation_error": err.Error(),
			},
		})
		return
	}

	ctx := c.Request.Context()
	result, err := h.batch.Generate(ctx, req.PlayerIDs, req.CurrentGameweek)
	if err != nil {
		h.logger.WithError(err).Error("Batch generation failed")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "Batch generation failed",
			Code:  "BATCH_ERROR",
			Details: map[string]string{
				"error": err.Error(),
			},
		})
		return
	}

	// Regeneration makes earlier cached horizons stale
	if err := h.cache.FlushForecasts(ctx); err != nil {
		h.logger.WithError(err).Warn("Failed to flush forecast cache after batch run")
	}

	c.JSON(http.StatusOK, result)
}

// ResyncRequest carries an appearance history batch from the ingestion job.
type ResyncRequest struct {
	Appearances []types.Appearance `json:"appearances" binding:"required,min=1"`
}

// ResyncHistory handles appearance history resync: last write wins on
// (player, gameweek, season)
func (h *ForecastHandler) ResyncHistory(c *gin.Context) {
	var req ResyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Invalid request format",
			Code:  "INVALID_REQUEST",
			Details: map[string]string{
				"validation_error": err.Error(),
			},
		})
		return
	}

	ctx := c.Request.Context()
	if err := h.history.UpsertAppearances(ctx, req.Appearances); err != nil {
		h.logger.WithError(err).Error("History resync failed")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "History resync failed",
			Code:  "STORAGE_ERROR",
		})
		return
	}

	// Fresh history invalidates cached forecasts
	if err := h.cache.FlushForecasts(ctx); err != nil {
		h.logger.WithError(err).Warn("Failed to flush forecast cache after resync")
	}

	c.JSON(http.StatusOK, gin.H{"upserted": len(req.Appearances)})
}
