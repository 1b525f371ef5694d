package entitlement

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/reelcut/backend/internal/modules/usage"
	"go.uber.org/zap"
)

// ErrReservationRejected is returned when the ledger refused a reservation
// that re-evaluation against the same counters would have allowed
var ErrReservationRejected = errors.New("usage reservation rejected without an exhausted quota")

// ErrInvalidOperation is returned for requests outside the product's value ranges
var ErrInvalidOperation = errors.New("invalid operation")

// Reason is the machine-readable cause of a denied decision
type Reason string

const (
	ReasonQualityAboveCeiling   Reason = "quality-above-ceiling"
	ReasonPresetNotIncluded     Reason = "preset-not-included"
	ReasonAutoZoomAboveCeiling  Reason = "auto-zoom-above-ceiling"
	ReasonAdvancedEffectLocked  Reason = "advanced-effect-locked"
	ReasonRenderQuotaExhausted  Reason = "render-quota-exhausted"
	ReasonMinutesQuotaExhausted Reason = "minutes-quota-exhausted"
)

// IsQuota reports whether the reason is a consumable-resource exhaustion
func (r Reason) IsQuota() bool {
	return r == ReasonRenderQuotaExhausted || r == ReasonMinutesQuotaExhausted
}

// Operation is what a caller wants to do: the capabilities it needs and the
// usage it will cost. Zero fields are not requested.
type Operation struct {
	Quality         Quality `json:"quality,omitempty"`
	Preset          string  `json:"preset,omitempty"`
	AutoZoom        float64 `json:"autoZoom,omitempty"`
	AdvancedEffects bool    `json:"advancedEffects,omitempty"`
	Renders         int64   `json:"renders,omitempty"`
	Minutes         float64 `json:"minutes,omitempty"`
}

func (op Operation) cost() usage.Delta {
	return usage.Delta{Renders: op.Renders, Minutes: op.Minutes}
}

// validate rejects malformed requests. A zero AutoZoom means not requested;
// anything else must lie in [MinAutoZoom, MaxAutoZoom].
func (op Operation) validate() error {
	if op.AutoZoom != 0 && (math.IsNaN(op.AutoZoom) || op.AutoZoom < MinAutoZoom || op.AutoZoom > MaxAutoZoom) {
		return fmt.Errorf("%w: auto-zoom %v outside [%.2f, %.2f]", ErrInvalidOperation, op.AutoZoom, MinAutoZoom, MaxAutoZoom)
	}
	return op.cost().Validate()
}

// Decision is either allowed or names the minimal tier that would allow the
// operation and why it was required
type Decision struct {
	Allowed          bool             `json:"allowed"`
	Tier             Tier             `json:"tier"`
	RequiredTier     Tier             `json:"requiredTier,omitempty"`
	Reason           Reason           `json:"reason,omitempty"`
	Window           usage.PeriodKind `json:"window,omitempty"`
	UpgradeAvailable bool             `json:"upgradeAvailable"`
}

// OverridesSource loads admin-granted overrides for an account
type OverridesSource interface {
	GetOverrides(ctx context.Context, accountID string) (*Overrides, error)
}

// Observer receives every decision, e.g. for metrics
type Observer interface {
	ObserveDecision(tier Tier, decision Decision)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(tier Tier, decision Decision)

// ObserveDecision calls f
func (f ObserverFunc) ObserveDecision(tier Tier, decision Decision) {
	f(tier, decision)
}

// EnforcerConfig contains dependencies for the enforcer
type EnforcerConfig struct {
	Resolver  *Resolver
	Ledger    *usage.Ledger
	Overrides OverridesSource
	Observer  Observer
	Logger    *zap.Logger
}

// Enforcer decides whether an operation is allowed for an account
type Enforcer struct {
	resolver  *Resolver
	ledger    *usage.Ledger
	overrides OverridesSource
	observer  Observer
	logger    *zap.Logger
}

// NewEnforcer creates a new quota enforcer
func NewEnforcer(cfg EnforcerConfig) *Enforcer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		resolver:  cfg.Resolver,
		ledger:    cfg.Ledger,
		overrides: cfg.Overrides,
		observer:  cfg.Observer,
		logger:    logger,
	}
}

// Features resolves the account's effective features
func (e *Enforcer) Features(ctx context.Context, accountID string, tier Tier) ResolvedFeatures {
	tier = ParseTier(string(tier))
	return e.resolver.Resolve(tier, e.loadOverrides(ctx, accountID))
}

// Check evaluates an operation against capabilities and current usage without
// consuming anything. Storage failures are returned as errors; callers must
// treat them as a denial.
func (e *Enforcer) Check(ctx context.Context, accountID string, tier Tier, op Operation) (Decision, error) {
	if err := op.validate(); err != nil {
		return Decision{}, err
	}
	now := e.ledger.Clock().Now()
	tier = ParseTier(string(tier))
	overrides := e.loadOverrides(ctx, accountID)
	caps := e.resolver.Resolve(tier, overrides).Capabilities()

	if d, denied := e.checkCapabilities(tier, caps, overrides, op); denied {
		return e.observe(tier, d), nil
	}

	monthly, err := e.ledger.Get(ctx, accountID, usage.CurrentPeriodKey(usage.PeriodMonthly, now))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read monthly usage: %w", err)
	}
	var daily usage.Record
	if caps.HasDailyCap() {
		daily, err = e.ledger.Get(ctx, accountID, usage.CurrentPeriodKey(usage.PeriodDaily, now))
		if err != nil {
			return Decision{}, fmt.Errorf("failed to read daily usage: %w", err)
		}
	}

	return e.observe(tier, e.evaluateQuota(tier, caps, overrides, monthly, daily, op)), nil
}

// Consume gates capabilities like Check, then atomically reserves the
// operation's cost against every finite quota. Nothing is recorded unless the
// decision is allowed.
func (e *Enforcer) Consume(ctx context.Context, accountID string, tier Tier, op Operation) (Decision, []usage.Record, error) {
	if err := op.validate(); err != nil {
		return Decision{}, nil, err
	}
	now := e.ledger.Clock().Now()
	tier = ParseTier(string(tier))
	overrides := e.loadOverrides(ctx, accountID)
	caps := e.resolver.Resolve(tier, overrides).Capabilities()

	if d, denied := e.checkCapabilities(tier, caps, overrides, op); denied {
		return e.observe(tier, d), nil, nil
	}
	if op.cost().IsZero() {
		return e.observe(tier, allowed(tier)), nil, nil
	}

	monthlyKey := usage.CurrentPeriodKey(usage.PeriodMonthly, now)
	charges := []usage.Charge{{
		PeriodKey:   monthlyKey,
		Delta:       op.cost(),
		RenderLimit: caps.MonthlyRenders,
		MinuteLimit: caps.MonthlyMinutes,
	}}
	if caps.HasDailyCap() {
		charges = append(charges, usage.Charge{
			PeriodKey:   usage.CurrentPeriodKey(usage.PeriodDaily, now),
			Delta:       usage.Delta{Renders: op.Renders},
			RenderLimit: caps.DailyRenders,
			MinuteLimit: usage.NoLimit,
		})
	}

	res, err := e.ledger.Reserve(ctx, accountID, charges)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("failed to reserve usage: %w", err)
	}
	if res.Applied {
		e.logger.Debug("Usage reserved",
			zap.String("account_id", accountID),
			zap.String("tier", tier.String()),
			zap.Int64("renders", op.Renders),
			zap.Float64("minutes", op.Minutes),
		)
		return e.observe(tier, allowed(tier)), res.Records, nil
	}

	var daily usage.Record
	if len(res.Records) > 1 {
		daily = res.Records[1]
	}
	d := e.evaluateQuota(tier, caps, overrides, res.Records[0], daily, op)
	if d.Allowed {
		e.logger.Error("Ledger rejected a reservation that fits every quota",
			zap.String("account_id", accountID),
			zap.String("tier", tier.String()),
		)
		return Decision{}, nil, ErrReservationRejected
	}
	return e.observe(tier, d), res.Records, nil
}

// checkCapabilities gates the binary capabilities in a fixed order
func (e *Enforcer) checkCapabilities(tier Tier, caps CapabilitySet, overrides *Overrides, op Operation) (Decision, bool) {
	reason := capabilityViolation(caps, op)
	if reason == "" {
		return Decision{}, false
	}
	required := e.minimalTier(tier, overrides, func(c CapabilitySet) bool {
		return capabilityViolation(c, op) == ""
	}, TopTier())
	return denied(tier, required, reason, ""), true
}

func capabilityViolation(caps CapabilitySet, op Operation) Reason {
	switch {
	case op.Quality.Valid() && op.Quality > caps.ExportQuality:
		return ReasonQualityAboveCeiling
	case op.Preset != "" && !caps.SubtitlePresets.Allows(op.Preset):
		return ReasonPresetNotIncluded
	case op.AutoZoom > caps.AutoZoomCeiling:
		return ReasonAutoZoomAboveCeiling
	case op.AdvancedEffects && !caps.AdvancedEffects:
		return ReasonAdvancedEffectLocked
	}
	return ""
}

// evaluateQuota runs the monthly renders, daily renders, monthly minutes
// checks in that order; the first exhausted quota wins
func (e *Enforcer) evaluateQuota(tier Tier, caps CapabilitySet, overrides *Overrides, monthly, daily usage.Record, op Operation) Decision {
	rendersTotal := float64(monthly.RendersUsed) + float64(op.Renders)
	if !quotaAccommodates(caps.MonthlyRenders, rendersTotal) {
		required := e.minimalTier(tier, overrides, func(c CapabilitySet) bool {
			return quotaAccommodates(c.MonthlyRenders, rendersTotal)
		}, tier)
		return denied(tier, required, ReasonRenderQuotaExhausted, usage.PeriodMonthly)
	}

	if caps.HasDailyCap() {
		dailyTotal := float64(daily.RendersUsed) + float64(op.Renders)
		if !quotaAccommodates(caps.DailyRenders, dailyTotal) {
			required := e.minimalTier(tier, overrides, func(c CapabilitySet) bool {
				return quotaAccommodates(c.DailyRenders, dailyTotal)
			}, tier)
			return denied(tier, required, ReasonRenderQuotaExhausted, usage.PeriodDaily)
		}
	}

	minutesTotal := monthly.MinutesUsed + op.Minutes
	if !quotaAccommodates(caps.MonthlyMinutes, minutesTotal) {
		required := e.minimalTier(tier, overrides, func(c CapabilitySet) bool {
			return quotaAccommodates(c.MonthlyMinutes, minutesTotal)
		}, tier)
		return denied(tier, required, ReasonMinutesQuotaExhausted, usage.PeriodMonthly)
	}

	return allowed(tier)
}

// minimalTier scans the ladder from the bottom and returns the first tier
// above current whose capabilities (with the account's grants) satisfy ok.
// Founder accounts are never pointed at another tier.
func (e *Enforcer) minimalTier(current Tier, overrides *Overrides, ok func(CapabilitySet) bool, fallback Tier) Tier {
	if current == TierFounder {
		return TierFounder
	}
	for _, t := range Ladder() {
		if current.Satisfies(t) {
			continue
		}
		caps, _ := overrides.apply(e.resolver.Catalog().CapabilitiesFor(t))
		if ok(caps) {
			return t
		}
	}
	return fallback
}

func (e *Enforcer) loadOverrides(ctx context.Context, accountID string) *Overrides {
	if e.overrides == nil || accountID == "" {
		return nil
	}
	o, err := e.overrides.GetOverrides(ctx, accountID)
	if err != nil {
		// grants only ever raise capabilities, so the baseline is the safe fallback
		e.logger.Warn("Failed to load entitlement overrides, using tier baseline",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return nil
	}
	return o
}

func (e *Enforcer) observe(tier Tier, d Decision) Decision {
	if e.observer != nil {
		e.observer.ObserveDecision(tier, d)
	}
	return d
}

func allowed(tier Tier) Decision {
	return Decision{Allowed: true, Tier: tier}
}

func denied(tier, required Tier, reason Reason, window usage.PeriodKind) Decision {
	return Decision{
		Tier:             tier,
		RequiredTier:     required,
		Reason:           reason,
		Window:           window,
		UpgradeAvailable: required != tier,
	}
}
