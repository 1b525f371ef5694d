package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/reelcut/backend/internal/api/middleware"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/subscription"
	"github.com/reelcut/backend/internal/shared/logging"
	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"go.uber.org/zap"
)

// BillingAccounts is the account storage used by billing endpoints
type BillingAccounts interface {
	GetOrCreateProfile(ctx context.Context, accountID string) (*subscription.Profile, error)
	SetStripeCustomerID(ctx context.Context, accountID, customerID string) error
	HasActiveSubscription(ctx context.Context, accountID string, tier entitlement.Tier) (bool, error)
}

// StripeConfig holds the Stripe settings of the billing endpoints
type StripeConfig struct {
	SecretKey       string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// SubscriptionHandler handles subscription and Stripe billing endpoints
type SubscriptionHandler struct {
	accounts BillingAccounts
	prices   *entitlement.PriceMapper
	stripe   StripeConfig
	logger   *zap.Logger
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(accounts BillingAccounts, prices *entitlement.PriceMapper, stripeCfg StripeConfig, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		accounts: accounts,
		prices:   prices,
		stripe:   stripeCfg,
		logger:   logger,
	}
}

// GetMe returns the caller's profile
func (h *SubscriptionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	profile, err := h.accounts.GetOrCreateProfile(r.Context(), user.ID)
	if err != nil {
		logging.FromContext(r.Context(), h.logger).Error("Failed to get profile", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

// CreateCheckoutRequest is the request body for checkout
type CreateCheckoutRequest struct {
	Tier     string `json:"tier"`
	Interval string `json:"interval"`
}

// CreateCheckoutResponse returns the Stripe Checkout URL
type CreateCheckoutResponse struct {
	URL string `json:"url"`
}

// CreateCheckout creates a Stripe Checkout session for a tier and interval.
// Combinations without a purchasable price answer 422.
func (h *SubscriptionHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.stripe.SecretKey == "" {
		respondError(w, http.StatusServiceUnavailable, "Stripe not configured")
		return
	}
	logger := logging.FromContext(r.Context(), h.logger)

	var req CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tier, ok := entitlement.LookupTier(req.Tier)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tier")
		return
	}
	interval, err := entitlement.ParseInterval(req.Interval)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	priceID := h.prices.PriceIDFor(tier, interval)
	if priceID == "" {
		respondError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("%s is not purchasable with %s billing", tier, interval))
		return
	}

	if user.Tier == tier || user.Tier == entitlement.TierFounder {
		respondError(w, http.StatusConflict, fmt.Sprintf("You already have the %s plan", user.Tier))
		return
	}
	hasActiveSub, err := h.accounts.HasActiveSubscription(r.Context(), user.ID, tier)
	if err != nil {
		logger.Error("Failed to check active subscription", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if hasActiveSub {
		respondError(w, http.StatusConflict, fmt.Sprintf("You already have an active %s subscription", tier))
		return
	}

	custID, err := h.customerID(r.Context(), user)
	if err != nil {
		logger.Error("Failed to resolve Stripe customer", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create customer")
		return
	}

	metadata := map[string]string{
		"account_id": user.ID,
		"tier":       tier.String(),
		"interval":   string(interval),
	}
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(custID),
		ClientReferenceID: stripe.String(user.ID),
		Mode:              stripe.String(entitlement.CheckoutMode(interval)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(h.stripe.SuccessURL),
		CancelURL:  stripe.String(h.stripe.CancelURL),
		Metadata:   metadata,
	}
	if interval.IsRecurring() {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		}
	}

	stripe.Key = h.stripe.SecretKey
	sess, err := session.New(params)
	if err != nil {
		logger.Error("Failed to create checkout session", zap.Error(err))
		respondError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	logger.Info("Checkout session created",
		zap.String("account_id", user.ID),
		zap.String("tier", tier.String()),
		zap.String("interval", string(interval)),
	)
	respondJSON(w, http.StatusOK, CreateCheckoutResponse{URL: sess.URL})
}

// customerID returns the account's Stripe customer, creating it on first checkout
func (h *SubscriptionHandler) customerID(ctx context.Context, user *middleware.User) (string, error) {
	profile, err := h.accounts.GetOrCreateProfile(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if profile.StripeCustomerID != "" {
		return profile.StripeCustomerID, nil
	}

	stripe.Key = h.stripe.SecretKey
	params := &stripe.CustomerParams{}
	if user.Email != "" {
		params.Email = stripe.String(user.Email)
	}
	params.AddMetadata("account_id", user.ID)
	c, err := customer.New(params)
	if err != nil {
		return "", err
	}
	if err := h.accounts.SetStripeCustomerID(ctx, user.ID, c.ID); err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreatePortalSessionRequest for customer portal
type CreatePortalSessionRequest struct {
	ReturnURL string `json:"returnUrl"`
}

// CreatePortal creates a Stripe Customer Portal session
func (h *SubscriptionHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.stripe.SecretKey == "" {
		respondError(w, http.StatusServiceUnavailable, "Stripe not configured")
		return
	}
	logger := logging.FromContext(r.Context(), h.logger)

	profile, err := h.accounts.GetOrCreateProfile(r.Context(), user.ID)
	if err != nil {
		logger.Error("Failed to get profile", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if profile.StripeCustomerID == "" {
		respondError(w, http.StatusBadRequest, "no billing account found")
		return
	}

	returnURL := h.stripe.PortalReturnURL
	var req CreatePortalSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.ReturnURL != "" {
		returnURL = req.ReturnURL
	}

	stripe.Key = h.stripe.SecretKey
	sess, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(profile.StripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		logger.Error("Failed to create portal session", zap.Error(err))
		respondError(w, http.StatusBadGateway, "failed to create portal session")
		return
	}

	respondJSON(w, http.StatusOK, CreateCheckoutResponse{URL: sess.URL})
}
