package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/reelcut/backend/internal/api/middleware"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/renders"
	"github.com/reelcut/backend/internal/shared/logging"
	"go.uber.org/zap"
)

// RenderHandler handles render submission
type RenderHandler struct {
	module *renders.Module
	logger *zap.Logger
}

// NewRenderHandler creates a new render handler
func NewRenderHandler(module *renders.Module, logger *zap.Logger) *RenderHandler {
	return &RenderHandler{module: module, logger: logger}
}

// CreateRenderRequest is the body of POST /renders
type CreateRenderRequest struct {
	ProjectID       string  `json:"projectId"`
	Quality         string  `json:"quality"`
	Preset          string  `json:"preset"`
	AutoZoom        float64 `json:"autoZoom"`
	AdvancedEffects bool    `json:"advancedEffects"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Create submits a render. Settings above the caller's tier are clamped;
// an exhausted quota answers 402 with the decision.
func (h *RenderHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	logger := logging.FromContext(r.Context(), h.logger)

	var req CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	quality, err := entitlement.ParseQuality(req.Quality)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.module.Submit(r.Context(), renders.SubmitParams{
		AccountID:       user.ID,
		Tier:            user.Tier,
		ProjectID:       req.ProjectID,
		Quality:         quality,
		Preset:          req.Preset,
		AutoZoom:        req.AutoZoom,
		AdvancedEffects: req.AdvancedEffects,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		if errors.Is(err, renders.ErrInvalidRender) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("Failed to submit render", zap.String("account_id", user.ID), zap.Error(err))
		respondError(w, statusForUsageError(err), "failed to submit render")
		return
	}

	if res.Job == nil {
		respondJSON(w, http.StatusPaymentRequired, res.Decision)
		return
	}
	respondJSON(w, http.StatusAccepted, res.Job)
}
