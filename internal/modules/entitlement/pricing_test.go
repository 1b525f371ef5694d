package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPriceMapper() *PriceMapper {
	return NewPriceMapper(map[PriceKey]string{
		{Tier: TierStarter, Interval: IntervalMonthly}: "price_starter_m",
		{Tier: TierStarter, Interval: IntervalAnnual}:  "price_starter_y",
		{Tier: TierCreator, Interval: IntervalMonthly}: "price_creator_m",
		{Tier: TierStudio, Interval: IntervalAnnual}:   "price_studio_y",
		{Tier: TierFounder, Interval: IntervalOneTime}: "price_founder",
		{Tier: TierFounder, Interval: IntervalAnnual}:  "price_founder_y",
		{Tier: TierFree, Interval: IntervalMonthly}:    "price_free",
		{Tier: TierStarter, Interval: IntervalOneTime}: "price_starter_once",
		{Tier: TierCreator, Interval: IntervalAnnual}:  "   ",
	})
}

func TestPriceIDFor(t *testing.T) {
	m := testPriceMapper()

	tests := []struct {
		name     string
		tier     Tier
		interval Interval
		expected string
	}{
		{name: "starter monthly", tier: TierStarter, interval: IntervalMonthly, expected: "price_starter_m"},
		{name: "starter annual", tier: TierStarter, interval: IntervalAnnual, expected: "price_starter_y"},
		{name: "studio annual", tier: TierStudio, interval: IntervalAnnual, expected: "price_studio_y"},
		{name: "founder one time", tier: TierFounder, interval: IntervalOneTime, expected: "price_founder"},
		{name: "free monthly is not purchasable", tier: TierFree, interval: IntervalMonthly, expected: ""},
		{name: "founder annual is not purchasable", tier: TierFounder, interval: IntervalAnnual, expected: ""},
		{name: "founder monthly is not purchasable", tier: TierFounder, interval: IntervalMonthly, expected: ""},
		{name: "ladder tier one time is not purchasable", tier: TierStarter, interval: IntervalOneTime, expected: ""},
		{name: "blank configured price", tier: TierCreator, interval: IntervalAnnual, expected: ""},
		{name: "unconfigured", tier: TierStudio, interval: IntervalMonthly, expected: ""},
		{name: "unknown tier", tier: Tier("gold"), interval: IntervalMonthly, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.PriceIDFor(tt.tier, tt.interval))
		})
	}
}

func TestPriceIDForNilMapper(t *testing.T) {
	var m *PriceMapper
	assert.Equal(t, "", m.PriceIDFor(TierStarter, IntervalMonthly))
}

func TestTierForPrice(t *testing.T) {
	m := testPriceMapper()

	tier, interval, ok := m.TierForPrice("price_founder")
	require.True(t, ok)
	assert.Equal(t, TierFounder, tier)
	assert.Equal(t, IntervalOneTime, interval)

	_, _, ok = m.TierForPrice("price_free")
	assert.False(t, ok)
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected Interval
		wantErr  bool
	}{
		{input: "monthly", expected: IntervalMonthly},
		{input: "Yearly", expected: IntervalAnnual},
		{input: "annual", expected: IntervalAnnual},
		{input: "one_time", expected: IntervalOneTime},
		{input: "weekly", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCheckoutMode(t *testing.T) {
	assert.Equal(t, CheckoutModeSubscription, CheckoutMode(IntervalMonthly))
	assert.Equal(t, CheckoutModeSubscription, CheckoutMode(IntervalAnnual))
	assert.Equal(t, CheckoutModePayment, CheckoutMode(IntervalOneTime))
}

func TestParsePriceKey(t *testing.T) {
	tests := []struct {
		input    string
		expected PriceKey
		ok       bool
	}{
		{input: "starter_monthly", expected: PriceKey{Tier: TierStarter, Interval: IntervalMonthly}, ok: true},
		{input: "STUDIO_ANNUAL", expected: PriceKey{Tier: TierStudio, Interval: IntervalAnnual}, ok: true},
		{input: "founder_one_time", expected: PriceKey{Tier: TierFounder, Interval: IntervalOneTime}, ok: true},
		{input: "gold_monthly"},
		{input: "starter_weekly"},
		{input: "starter"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParsePriceKey(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}
