package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/reelcut/backend/internal/api/middleware"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/usage"
	"github.com/reelcut/backend/internal/shared/logging"
	"go.uber.org/zap"
)

// EntitlementHandler exposes an account's features, usage and decisions
type EntitlementHandler struct {
	enforcer  *entitlement.Enforcer
	ledger    *usage.Ledger
	snapshots *usage.SnapshotCache
	logger    *zap.Logger
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(enforcer *entitlement.Enforcer, ledger *usage.Ledger, snapshots *usage.SnapshotCache, logger *zap.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		enforcer:  enforcer,
		ledger:    ledger,
		snapshots: snapshots,
		logger:    logger,
	}
}

// MonthlyUsage is the monthly usage against its limits. A limit of -1 is unlimited.
type MonthlyUsage struct {
	PeriodKey    string    `json:"periodKey"`
	RendersUsed  int64     `json:"rendersUsed"`
	RendersLimit int64     `json:"rendersLimit"`
	MinutesUsed  float64   `json:"minutesUsed"`
	MinutesLimit int64     `json:"minutesLimit"`
	ResetsAt     time.Time `json:"resetsAt"`
}

// DailyUsage is the daily render count against the daily cap
type DailyUsage struct {
	PeriodKey    string    `json:"periodKey"`
	RendersUsed  int64     `json:"rendersUsed"`
	RendersLimit int64     `json:"rendersLimit"`
	ResetsAt     time.Time `json:"resetsAt"`
}

// UsageSnapshot is the usage view shown on the dashboard. It may lag the
// ledger by the snapshot cache TTL.
type UsageSnapshot struct {
	Monthly MonthlyUsage `json:"monthly"`
	Daily   *DailyUsage  `json:"daily,omitempty"`
}

// MeResponse is the body of GET /entitlements/me
type MeResponse struct {
	Features entitlement.ResolvedFeatures `json:"features"`
	Usage    UsageSnapshot                `json:"usage"`
}

// GetMe returns the caller's resolved features and a display usage snapshot
func (h *EntitlementHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	logger := logging.FromContext(r.Context(), h.logger)

	features := h.enforcer.Features(r.Context(), user.ID, user.Tier)
	caps := features.Capabilities()
	now := h.ledger.Clock().Now()

	monthlyKey := usage.CurrentPeriodKey(usage.PeriodMonthly, now)
	monthly, err := h.snapshots.Get(r.Context(), user.ID, monthlyKey)
	if err != nil {
		logger.Error("Failed to read monthly usage", zap.String("account_id", user.ID), zap.Error(err))
		respondError(w, statusForUsageError(err), "usage unavailable")
		return
	}

	resp := MeResponse{
		Features: features,
		Usage: UsageSnapshot{
			Monthly: MonthlyUsage{
				PeriodKey:    monthlyKey,
				RendersUsed:  monthly.RendersUsed,
				RendersLimit: caps.MonthlyRenders,
				MinutesUsed:  monthly.MinutesUsed,
				MinutesLimit: caps.MonthlyMinutes,
				ResetsAt:     usage.PeriodEnd(usage.PeriodMonthly, now),
			},
		},
	}

	if caps.HasDailyCap() {
		dailyKey := usage.CurrentPeriodKey(usage.PeriodDaily, now)
		daily, err := h.snapshots.Get(r.Context(), user.ID, dailyKey)
		if err != nil {
			logger.Error("Failed to read daily usage", zap.String("account_id", user.ID), zap.Error(err))
			respondError(w, statusForUsageError(err), "usage unavailable")
			return
		}
		resp.Usage.Daily = &DailyUsage{
			PeriodKey:    dailyKey,
			RendersUsed:  daily.RendersUsed,
			RendersLimit: caps.DailyRenders,
			ResetsAt:     usage.PeriodEnd(usage.PeriodDaily, now),
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// CheckRequest is the body of POST /entitlements/check
type CheckRequest struct {
	Quality         string  `json:"quality"`
	Preset          string  `json:"preset"`
	AutoZoom        float64 `json:"autoZoom"`
	AdvancedEffects bool    `json:"advancedEffects"`
	Renders         int64   `json:"renders"`
	Minutes         float64 `json:"minutes"`
}

// Check evaluates an operation for the caller without consuming usage. The
// decision is returned with 200 whether or not it is allowed.
func (h *EntitlementHandler) Check(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	logger := logging.FromContext(r.Context(), h.logger)

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	quality, err := entitlement.ParseQuality(req.Quality)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := (usage.Delta{Renders: req.Renders, Minutes: req.Minutes}).Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := h.enforcer.Check(r.Context(), user.ID, user.Tier, entitlement.Operation{
		Quality:         quality,
		Preset:          req.Preset,
		AutoZoom:        req.AutoZoom,
		AdvancedEffects: req.AdvancedEffects,
		Renders:         req.Renders,
		Minutes:         req.Minutes,
	})
	if errors.Is(err, entitlement.ErrInvalidOperation) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.Error("Entitlement check failed", zap.String("account_id", user.ID), zap.Error(err))
		respondError(w, statusForUsageError(err), "entitlement check unavailable")
		return
	}

	respondJSON(w, http.StatusOK, decision)
}
