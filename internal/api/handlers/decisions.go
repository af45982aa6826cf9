package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-engine/internal/captaincy"
	"github.com/stitts-dev/fpl-engine/internal/config"
	"github.com/stitts-dev/fpl-engine/internal/optimizer"
	"github.com/stitts-dev/fpl-engine/internal/types"
)

// DecisionHandler handles captaincy and lineup decision endpoints
type DecisionHandler struct {
	captaincy *captaincy.Engine
	optimizer *optimizer.Optimizer
	config    *config.Config
	logger    *logrus.Logger
}

// NewDecisionHandler creates a new decision handler
func NewDecisionHandler(
	captaincyEngine *captaincy.Engine,
	xiOptimizer *optimizer.Optimizer,
	cfg *config.Config,
	logger *logrus.Logger,
) *DecisionHandler {
	return &DecisionHandler{
		captaincy: captaincyEngine,
		optimizer: xiOptimizer,
		config:    cfg,
		logger:    logger,
	}
}

// settingsFor merges an optional per-request override onto the configured
// engine weights.
func (h *DecisionHandler) settingsFor(override *types.EngineSettings) types.EngineSettings {
	if override != nil {
		return *override
	}
	return h.config.EngineSettings()
}

// CaptaincyRequest carries the two candidates and an optional settings
// override.
type CaptaincyRequest struct {
	PlayerA  *types.GameweekInput  `json:"player_a" binding:"required"`
	PlayerB  *types.GameweekInput  `json:"player_b" binding:"required"`
	Settings *types.EngineSettings `json:"settings,omitempty"`
}

// CompareCaptaincy handles captaincy comparison requests
func (h *DecisionHandler) CompareCaptaincy(c *gin.Context) {
	var req CaptaincyRequest
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

	decision, err := h.captaincy.Decide(req.PlayerA, req.PlayerB, h.settingsFor(req.Settings))
	if err != nil {
		if errors.Is(err, captaincy.ErrMissingInput) {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: "Both candidates need gameweek input data",
				Code:  "MISSING_INPUT",
			})
			return
		}
		h.logger.WithError(err).Error("Captaincy comparison failed")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "Captaincy comparison failed",
			Code:  "DECISION_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, decision)
}

// LineupRequest carries the squad, an optional preferred formation, and an
// optional settings override.
type LineupRequest struct {
	Squad              []types.GameweekInput `json:"squad" binding:"required,min=1"`
	PreferredFormation string                `json:"preferred_formation,omitempty"`
	Settings           *types.EngineSettings `json:"settings,omitempty"`
}

// OptimizeLineup handles XI optimization requests
func (h *DecisionHandler) OptimizeLineup(c *gin.Context) {
	var req LineupRequest
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

	lineup, err := h.optimizer.Optimize(req.Squad, req.PreferredFormation, h.settingsFor(req.Settings))
	if err != nil {
		switch {
		case errors.Is(err, optimizer.ErrInsufficientPlayers):
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: "At least 11 eligible players are required",
				Code:  "INSUFFICIENT_PLAYERS",
				Details: map[string]string{
					"error": err.Error(),
				},
			})
		case errors.Is(err, optimizer.ErrNoValidFormation):
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error: "No candidate formation can be filled from this squad",
				Code:  "NO_VALID_FORMATION",
				Details: map[string]string{
					"error": err.Error(),
				},
			})
		default:
			h.logger.WithError(err).Error("Lineup optimization failed")
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{
				Error: "Lineup optimization failed",
				Code:  "DECISION_ERROR",
			})
		}
		return
	}

	c.JSON(http.StatusOK, lineup)
}
