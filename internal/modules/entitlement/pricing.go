package entitlement

import (
	"fmt"
	"strings"
)

// Interval is a billing interval
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
	IntervalOneTime Interval = "one_time"
)

// Checkout modes understood by the payment provider
const (
	CheckoutModeSubscription = "subscription"
	CheckoutModePayment      = "payment"
)

// Intervals returns every supported interval
func Intervals() []Interval {
	return []Interval{IntervalMonthly, IntervalAnnual, IntervalOneTime}
}

// ParseInterval parses an interval label; "yearly" is accepted for annual
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monthly", "month":
		return IntervalMonthly, nil
	case "annual", "yearly", "year":
		return IntervalAnnual, nil
	case "one_time", "onetime", "lifetime":
		return IntervalOneTime, nil
	}
	return "", fmt.Errorf("unknown billing interval %q", s)
}

// IsRecurring reports whether the interval bills repeatedly
func (i Interval) IsRecurring() bool {
	return i == IntervalMonthly || i == IntervalAnnual
}

// CheckoutMode returns the checkout mode for an interval
func CheckoutMode(i Interval) string {
	if i.IsRecurring() {
		return CheckoutModeSubscription
	}
	return CheckoutModePayment
}

// PriceKey identifies a purchasable (tier, interval) pair
type PriceKey struct {
	Tier     Tier
	Interval Interval
}

// ParsePriceKey parses "<tier>_<interval>", e.g. "starter_monthly" or
// "founder_one_time"
func ParsePriceKey(name string) (PriceKey, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, interval := range Intervals() {
		prefix, ok := strings.CutSuffix(name, "_"+string(interval))
		if !ok {
			continue
		}
		tier, ok := LookupTier(prefix)
		if !ok {
			return PriceKey{}, false
		}
		return PriceKey{Tier: tier, Interval: interval}, true
	}
	return PriceKey{}, false
}

// PriceMapper maps purchasable tiers to payment provider price ids
type PriceMapper struct {
	prices map[PriceKey]string
}

// NewPriceMapper keeps only purchasable combinations: ladder paid tiers on a
// recurring interval, founder on one_time. Everything else is dropped.
func NewPriceMapper(prices map[PriceKey]string) *PriceMapper {
	m := &PriceMapper{prices: make(map[PriceKey]string, len(prices))}
	for k, id := range prices {
		id = strings.TrimSpace(id)
		if id == "" || !purchasable(k) {
			continue
		}
		m.prices[k] = id
	}
	return m
}

func purchasable(k PriceKey) bool {
	switch {
	case k.Tier == TierFounder:
		return k.Interval == IntervalOneTime
	case k.Tier.OnLadder() && k.Tier.IsPaid():
		return k.Interval.IsRecurring()
	}
	return false
}

// PriceIDFor returns the configured price id, or "" when the combination is
// not purchasable or not configured
func (m *PriceMapper) PriceIDFor(tier Tier, interval Interval) string {
	if m == nil {
		return ""
	}
	return m.prices[PriceKey{Tier: tier, Interval: interval}]
}

// TierForPrice reverse-maps a price id
func (m *PriceMapper) TierForPrice(priceID string) (Tier, Interval, bool) {
	if m == nil || priceID == "" {
		return "", "", false
	}
	for k, id := range m.prices {
		if id == priceID {
			return k.Tier, k.Interval, true
		}
	}
	return "", "", false
}
