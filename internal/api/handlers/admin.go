package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/reelcut/backend/internal/api/middleware"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/subscription"
	"github.com/reelcut/backend/internal/shared/logging"
	"go.uber.org/zap"
)

// AccountAdmin is the storage behind admin account operations
type AccountAdmin interface {
	GrantOverrides(ctx context.Context, accountID string, overrides entitlement.Overrides, grantedBy, reason string) (*subscription.Grant, error)
	ClearOverrides(ctx context.Context, accountID string) error
	SetTier(ctx context.Context, accountID string, tier entitlement.Tier) error
}

// AdminHandler handles operator-only account endpoints
type AdminHandler struct {
	accounts AccountAdmin
	logger   *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(accounts AccountAdmin, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, logger: logger}
}

// GrantOverridesRequest is the body of PUT /admin/accounts/{id}/overrides
type GrantOverridesRequest struct {
	Overrides entitlement.Overrides `json:"overrides"`
	Reason    string                `json:"reason"`
}

// PutOverrides grants capabilities above the account's tier baseline
func (h *AdminHandler) PutOverrides(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(chi.URLParam(r, "id"))
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "account id is required")
		return
	}
	logger := logging.FromContext(r.Context(), h.logger)

	var req GrantOverridesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Overrides.IsEmpty() {
		respondError(w, http.StatusBadRequest, "overrides grant nothing")
		return
	}

	grantedBy := ""
	if admin := middleware.GetUser(r.Context()); admin != nil {
		grantedBy = admin.ID
	}

	grant, err := h.accounts.GrantOverrides(r.Context(), accountID, req.Overrides, grantedBy, req.Reason)
	if err != nil {
		if errors.Is(err, entitlement.ErrRestrictingOverride) || errors.Is(err, entitlement.ErrUnknownPreset) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("Failed to grant overrides", zap.String("account_id", accountID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to grant overrides")
		return
	}

	respondJSON(w, http.StatusOK, grant)
}

// DeleteOverrides drops the account back to its tier baseline
func (h *AdminHandler) DeleteOverrides(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if err := h.accounts.ClearOverrides(r.Context(), accountID); err != nil {
		logging.FromContext(r.Context(), h.logger).Error("Failed to clear overrides",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to clear overrides")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetTierRequest is the body of PUT /admin/accounts/{id}/tier
type SetTierRequest struct {
	Tier string `json:"tier"`
}

// PutTier assigns a tier to an account
func (h *AdminHandler) PutTier(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(chi.URLParam(r, "id"))
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "account id is required")
		return
	}

	var req SetTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.accounts.SetTier(r.Context(), accountID, entitlement.Tier(req.Tier)); err != nil {
		if errors.Is(err, subscription.ErrUnknownTier) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.FromContext(r.Context(), h.logger).Error("Failed to set tier",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to set tier")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
