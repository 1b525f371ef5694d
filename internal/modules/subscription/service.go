package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/shared/database"
	"go.uber.org/zap"
)

var (
	// ErrProfileNotFound is returned when an account has no profile row
	ErrProfileNotFound = errors.New("profile not found")
	// ErrUnknownTier is returned when an admin assigns a tier the catalog does not know
	ErrUnknownTier = errors.New("unknown tier")
)

// Profile is an account's billing identity
type Profile struct {
	AccountID        string           `json:"accountId"`
	Tier             entitlement.Tier `json:"tier"`
	StripeCustomerID string           `json:"stripeCustomerId,omitempty"`
	PeriodEnd        *time.Time       `json:"periodEnd,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Grant is a stored admin override with its audit fields
type Grant struct {
	AccountID string                `json:"accountId"`
	Overrides entitlement.Overrides `json:"overrides"`
	GrantedBy string                `json:"grantedBy,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Service handles account tiers and entitlement overrides
type Service struct {
	db       *database.Postgres
	resolver *entitlement.Resolver
	logger   *zap.Logger
}

// NewService creates a new subscription service
func NewService(db *database.Postgres, resolver *entitlement.Resolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, resolver: resolver, logger: logger}
}

// GetProfile returns the account's profile
func (s *Service) GetProfile(ctx context.Context, accountID string) (*Profile, error) {
	var (
		p                Profile
		tier             string
		stripeCustomerID *string
	)
	err := s.db.Pool.QueryRow(ctx, `
		SELECT user_id, tier, stripe_customer_id, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`, accountID).Scan(&p.AccountID, &tier, &stripeCustomerID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	p.Tier = entitlement.ParseTier(tier)
	if stripeCustomerID != nil {
		p.StripeCustomerID = *stripeCustomerID
	}

	// Paid ladder tiers renew; founder and free have no period end
	var periodEnd *time.Time
	err = s.db.Pool.QueryRow(ctx, `
		SELECT current_period_end FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'trialing')
		ORDER BY created_at DESC LIMIT 1
	`, accountID).Scan(&periodEnd)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	p.PeriodEnd = periodEnd

	return &p, nil
}

// GetOrCreateProfile ensures a profile exists and returns it
func (s *Service) GetOrCreateProfile(ctx context.Context, accountID string) (*Profile, error) {
	p, err := s.GetProfile(ctx, accountID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, tier)
		VALUES ($1, 'free')
		ON CONFLICT (user_id) DO NOTHING
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return s.GetProfile(ctx, accountID)
}

// GetTier returns the account's tier. It never fails: missing profiles,
// unknown tier strings and database errors all resolve to free.
func (s *Service) GetTier(ctx context.Context, accountID string) entitlement.Tier {
	var tier string
	err := s.db.Pool.QueryRow(ctx, `SELECT tier FROM user_profiles WHERE user_id = $1`, accountID).Scan(&tier)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("Failed to load tier, treating account as free",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		}
		return entitlement.TierFree
	}
	return entitlement.ParseTier(tier)
}

// SetTier assigns a tier to the account, creating the profile if needed
func (s *Service) SetTier(ctx context.Context, accountID string, tier entitlement.Tier) error {
	t, ok := entitlement.LookupTier(string(tier))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, tier, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			updated_at = NOW()
	`, accountID, string(t))
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	s.logger.Info("Account tier updated",
		zap.String("account_id", accountID),
		zap.String("tier", t.String()),
	)
	return nil
}

// SetStripeCustomerID links a Stripe customer to the account
func (s *Service) SetStripeCustomerID(ctx context.Context, accountID, customerID string) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, tier, stripe_customer_id, updated_at)
		VALUES ($1, 'free', $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			updated_at = NOW()
	`, accountID, customerID)
	return err
}

// HasActiveSubscription checks if an account already has an active subscription for a tier
func (s *Service) HasActiveSubscription(ctx context.Context, accountID string, tier entitlement.Tier) (bool, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM subscriptions
		WHERE user_id = $1
		  AND tier = $2
		  AND status IN ('active', 'trialing')
	`, accountID, string(tier)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetOverrides returns the account's admin grant, or nil when there is none
func (s *Service) GetOverrides(ctx context.Context, accountID string) (*entitlement.Overrides, error) {
	var raw []byte
	err := s.db.Pool.QueryRow(ctx, `
		SELECT grants FROM entitlement_overrides WHERE account_id = $1
	`, accountID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load overrides: %w", err)
	}
	return decodeOverrides(raw)
}

// GrantOverrides validates and stores an admin grant. An override that would
// lower any baseline capability of the account's tier is rejected with
// entitlement.ErrRestrictingOverride, and unknown preset ids with
// entitlement.ErrUnknownPreset.
func (s *Service) GrantOverrides(ctx context.Context, accountID string, overrides entitlement.Overrides, grantedBy, reason string) (*Grant, error) {
	tier := s.GetTier(ctx, accountID)
	if err := s.resolver.ValidateOverrides(tier, overrides); err != nil {
		return nil, err
	}
	overrides.ExtraPresets = normalizePresets(overrides.ExtraPresets)

	data, err := json.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to encode overrides: %w", err)
	}

	g := Grant{AccountID: accountID, Overrides: overrides, GrantedBy: grantedBy, Reason: reason}
	err = s.db.Pool.QueryRow(ctx, `
		INSERT INTO entitlement_overrides (account_id, grants, granted_by, reason, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			grants = EXCLUDED.grants,
			granted_by = EXCLUDED.granted_by,
			reason = EXCLUDED.reason,
			updated_at = NOW()
		RETURNING updated_at
	`, accountID, data, nullable(grantedBy), nullable(reason)).Scan(&g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store overrides: %w", err)
	}

	s.logger.Info("Entitlement overrides granted",
		zap.String("account_id", accountID),
		zap.String("tier", tier.String()),
		zap.String("granted_by", grantedBy),
	)
	return &g, nil
}

// ClearOverrides removes the account's grant
func (s *Service) ClearOverrides(ctx context.Context, accountID string) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM entitlement_overrides WHERE account_id = $1`, accountID)
	return err
}

func decodeOverrides(raw []byte) (*entitlement.Overrides, error) {
	var o entitlement.Overrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("failed to decode overrides: %w", err)
	}
	if o.IsEmpty() {
		return nil, nil
	}
	return &o, nil
}

func normalizePresets(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
