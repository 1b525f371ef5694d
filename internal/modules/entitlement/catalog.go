package entitlement

import (
	"errors"
	"fmt"
	"math"
)

// Unlimited marks a quota with no ceiling
const Unlimited int64 = -1

// Auto-zoom bounds shared by every tier
const (
	MinAutoZoom = 1.0
	MaxAutoZoom = 1.15
)

// DefaultCatalogVersion identifies the built-in tier table
const DefaultCatalogVersion = "2025-01"

// ErrInvalidCatalog is returned when a tier table breaks a catalog invariant
var ErrInvalidCatalog = errors.New("invalid tier catalog")

// IsUnlimited checks if a quota value represents no ceiling
func IsUnlimited(limit int64) bool {
	return limit < 0
}

// quotaCovers reports whether quota a is at least quota b
func quotaCovers(a, b int64) bool {
	if IsUnlimited(a) {
		return true
	}
	if IsUnlimited(b) {
		return false
	}
	return a >= b
}

// quotaAccommodates reports whether a quota admits the given total usage
func quotaAccommodates(limit int64, total float64) bool {
	return IsUnlimited(limit) || total <= float64(limit)
}

// CapabilitySet is the capability table row for one tier
type CapabilitySet struct {
	ExportQuality   Quality
	Watermark       bool
	QueuePriority   bool
	SubtitlePresets PresetAccess
	AutoZoomCeiling float64
	AdvancedEffects bool

	MonthlyRenders int64 // Unlimited for no ceiling
	DailyRenders   int64 // Unlimited when the tier has no daily cap
	MonthlyMinutes int64 // Unlimited for no ceiling

	Lifetime               bool
	FutureFeaturesIncluded bool
}

// HasDailyCap reports whether the tier defines a daily render quota
func (c CapabilitySet) HasDailyCap() bool {
	return !IsUnlimited(c.DailyRenders)
}

// Covers reports whether every gated capability and quota in c is at least
// the corresponding one in other. Lifetime flags are not compared.
func (c CapabilitySet) Covers(other CapabilitySet) bool {
	return c.ExportQuality >= other.ExportQuality &&
		(!c.Watermark || other.Watermark) &&
		(c.QueuePriority || !other.QueuePriority) &&
		c.SubtitlePresets.Covers(other.SubtitlePresets) &&
		c.AutoZoomCeiling >= other.AutoZoomCeiling &&
		(c.AdvancedEffects || !other.AdvancedEffects) &&
		quotaCovers(c.MonthlyRenders, other.MonthlyRenders) &&
		quotaCovers(c.DailyRenders, other.DailyRenders) &&
		quotaCovers(c.MonthlyMinutes, other.MonthlyMinutes)
}

func (c CapabilitySet) validate(tier Tier) error {
	if !c.ExportQuality.Valid() {
		return fmt.Errorf("%w: tier %s has no export quality", ErrInvalidCatalog, tier)
	}
	if math.IsNaN(c.AutoZoomCeiling) || c.AutoZoomCeiling < MinAutoZoom || c.AutoZoomCeiling > MaxAutoZoom {
		return fmt.Errorf("%w: tier %s auto-zoom ceiling %.2f outside [%.2f, %.2f]",
			ErrInvalidCatalog, tier, c.AutoZoomCeiling, MinAutoZoom, MaxAutoZoom)
	}
	for name, q := range map[string]int64{
		"monthly renders": c.MonthlyRenders,
		"daily renders":   c.DailyRenders,
		"monthly minutes": c.MonthlyMinutes,
	} {
		if q < Unlimited {
			return fmt.Errorf("%w: tier %s has negative %s quota %d", ErrInvalidCatalog, tier, name, q)
		}
	}
	for _, id := range c.SubtitlePresets.ExplicitIDs() {
		if !IsKnownPreset(id) {
			return fmt.Errorf("%w: tier %s references unknown preset %q", ErrInvalidCatalog, tier, id)
		}
	}
	return nil
}

// Catalog is the immutable tier → capability table. Build it once at process
// start and pass it to the resolver and enforcer.
type Catalog struct {
	version string
	tiers   map[Tier]CapabilitySet
}

// NewCatalog validates a tier table and freezes it
func NewCatalog(version string, tiers map[Tier]CapabilitySet) (*Catalog, error) {
	frozen := make(map[Tier]CapabilitySet, len(tiers))
	for _, t := range AllTiers() {
		caps, ok := tiers[t]
		if !ok {
			return nil, fmt.Errorf("%w: tier %s missing", ErrInvalidCatalog, t)
		}
		if err := caps.validate(t); err != nil {
			return nil, err
		}
		// re-create the preset set so the caller's map cannot alias ours
		if !caps.SubtitlePresets.IsAll() {
			caps.SubtitlePresets = ExplicitPresets(caps.SubtitlePresets.ExplicitIDs()...)
		}
		frozen[t] = caps
	}
	for t := range tiers {
		if lt, ok := LookupTier(string(t)); !ok || lt != t {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidCatalog, t)
		}
	}

	l := Ladder()
	for i := 1; i < len(l); i++ {
		if !frozen[l[i]].Covers(frozen[l[i-1]]) {
			return nil, fmt.Errorf("%w: tier %s grants less than %s", ErrInvalidCatalog, l[i], l[i-1])
		}
	}
	if !frozen[TierFounder].Covers(frozen[TopTier()]) {
		return nil, fmt.Errorf("%w: founder grants less than %s", ErrInvalidCatalog, TopTier())
	}
	top := frozen[TopTier()]
	if !top.SubtitlePresets.IsAll() || top.ExportQuality != Quality4K || !top.AdvancedEffects || top.AutoZoomCeiling != MaxAutoZoom {
		return nil, fmt.Errorf("%w: top tier %s must grant every capability", ErrInvalidCatalog, TopTier())
	}

	return &Catalog{version: version, tiers: frozen}, nil
}

// DefaultCatalog returns the built-in tier table
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultCatalogVersion, defaultTiers())
	if err != nil {
		panic(err)
	}
	return c
}

func defaultTiers() map[Tier]CapabilitySet {
	return map[Tier]CapabilitySet{
		TierFree: {
			ExportQuality:   Quality720p,
			Watermark:       true,
			SubtitlePresets: ExplicitPresets("basic_clean"),
			AutoZoomCeiling: 1.05,
			MonthlyRenders:  12,
			DailyRenders:    3,
			MonthlyMinutes:  30,
		},
		TierStarter: {
			ExportQuality:   Quality1080p,
			SubtitlePresets: ExplicitPresets("basic_clean", "bold_pop", "minimal_caption"),
			AutoZoomCeiling: 1.12,
			MonthlyRenders:  60,
			DailyRenders:    Unlimited,
			MonthlyMinutes:  300,
		},
		TierCreator: {
			ExportQuality:   Quality1080p,
			QueuePriority:   true,
			SubtitlePresets: AllPresets(),
			AutoZoomCeiling: 1.15,
			AdvancedEffects: true,
			MonthlyRenders:  200,
			DailyRenders:    Unlimited,
			MonthlyMinutes:  1200,
		},
		TierStudio: {
			ExportQuality:   Quality4K,
			QueuePriority:   true,
			SubtitlePresets: AllPresets(),
			AutoZoomCeiling: 1.15,
			AdvancedEffects: true,
			MonthlyRenders:  Unlimited,
			DailyRenders:    Unlimited,
			MonthlyMinutes:  6000,
		},
		TierFounder: {
			ExportQuality:          Quality4K,
			QueuePriority:          true,
			SubtitlePresets:        AllPresets(),
			AutoZoomCeiling:        1.15,
			AdvancedEffects:        true,
			MonthlyRenders:         Unlimited,
			DailyRenders:           Unlimited,
			MonthlyMinutes:         Unlimited,
			Lifetime:               true,
			FutureFeaturesIncluded: true,
		},
	}
}

// Version returns the catalog version label
func (c *Catalog) Version() string {
	return c.version
}

// CapabilitiesFor returns the capability set of a tier. It never fails; a tier
// that was not normalized with ParseTier gets the free row.
func (c *Catalog) CapabilitiesFor(t Tier) CapabilitySet {
	if caps, ok := c.tiers[t]; ok {
		return caps
	}
	return c.tiers[TierFree]
}
