package entitlement

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrRestrictingOverride is returned when an override would lower a tier's baseline
var ErrRestrictingOverride = errors.New("override restricts tier baseline")

// ErrUnknownPreset is returned when an override grants a preset id the catalog does not know
var ErrUnknownPreset = errors.New("unknown subtitle preset")

// Overrides is a grant-only delta applied on top of a tier's catalog row.
// Nil fields leave the baseline untouched.
type Overrides struct {
	ExportQuality   *Quality `json:"exportQuality,omitempty"`
	Watermark       *bool    `json:"watermark,omitempty"`
	QueuePriority   *bool    `json:"queuePriority,omitempty"`
	AllPresets      bool     `json:"allPresets,omitempty"`
	ExtraPresets    []string `json:"extraPresets,omitempty"`
	AutoZoomCeiling *float64 `json:"autoZoomCeiling,omitempty"`
	AdvancedEffects *bool    `json:"advancedEffects,omitempty"`
	MonthlyRenders  *int64   `json:"monthlyRenders,omitempty"`
	DailyRenders    *int64   `json:"dailyRenders,omitempty"`
	MonthlyMinutes  *int64   `json:"monthlyMinutes,omitempty"`
}

// IsEmpty reports whether the override grants nothing
func (o *Overrides) IsEmpty() bool {
	return o == nil || (o.ExportQuality == nil && o.Watermark == nil && o.QueuePriority == nil &&
		!o.AllPresets && len(o.ExtraPresets) == 0 && o.AutoZoomCeiling == nil &&
		o.AdvancedEffects == nil && o.MonthlyRenders == nil && o.DailyRenders == nil && o.MonthlyMinutes == nil)
}

// apply merges the grant-only fields of o into base and returns the names of
// fields that were skipped because they would lower the baseline
func (o *Overrides) apply(base CapabilitySet) (CapabilitySet, []string) {
	if o == nil {
		return base, nil
	}
	out := base
	var rejected []string

	if o.ExportQuality != nil {
		if o.ExportQuality.Valid() && *o.ExportQuality >= base.ExportQuality {
			out.ExportQuality = *o.ExportQuality
		} else {
			rejected = append(rejected, "exportQuality")
		}
	}
	if o.Watermark != nil {
		if !*o.Watermark || base.Watermark {
			out.Watermark = *o.Watermark
		} else {
			rejected = append(rejected, "watermark")
		}
	}
	if o.QueuePriority != nil {
		if *o.QueuePriority || !base.QueuePriority {
			out.QueuePriority = *o.QueuePriority
		} else {
			rejected = append(rejected, "queuePriority")
		}
	}
	if o.AllPresets {
		out.SubtitlePresets = AllPresets()
	} else if len(o.ExtraPresets) > 0 {
		var known []string
		for _, id := range o.ExtraPresets {
			if IsKnownPreset(id) {
				known = append(known, id)
			}
		}
		if len(known) != len(o.ExtraPresets) {
			rejected = append(rejected, "extraPresets")
		}
		out.SubtitlePresets = out.SubtitlePresets.Union(ExplicitPresets(known...))
	}
	if o.AutoZoomCeiling != nil {
		z := *o.AutoZoomCeiling
		if z >= base.AutoZoomCeiling && z <= MaxAutoZoom {
			out.AutoZoomCeiling = z
		} else {
			rejected = append(rejected, "autoZoomCeiling")
		}
	}
	if o.AdvancedEffects != nil {
		if *o.AdvancedEffects || !base.AdvancedEffects {
			out.AdvancedEffects = *o.AdvancedEffects
		} else {
			rejected = append(rejected, "advancedEffects")
		}
	}
	applyQuota := func(name string, grant *int64, dst *int64, baseline int64) {
		if grant == nil {
			return
		}
		if *grant >= Unlimited && quotaCovers(*grant, baseline) {
			*dst = *grant
		} else {
			rejected = append(rejected, name)
		}
	}
	applyQuota("monthlyRenders", o.MonthlyRenders, &out.MonthlyRenders, base.MonthlyRenders)
	applyQuota("dailyRenders", o.DailyRenders, &out.DailyRenders, base.DailyRenders)
	applyQuota("monthlyMinutes", o.MonthlyMinutes, &out.MonthlyMinutes, base.MonthlyMinutes)

	return out, rejected
}

// QueuePriorityLabel names the render queue lane
type QueuePriorityLabel string

const (
	QueueStandard QueuePriorityLabel = "standard"
	QueuePriority QueuePriorityLabel = "priority"
)

// ResolvedFeatures is the flattened capability view consumed by the UI and the enforcer
type ResolvedFeatures struct {
	Tier                   Tier               `json:"tier"`
	CatalogVersion         string             `json:"catalogVersion"`
	Resolution             Quality            `json:"resolution"`
	ResolutionHeight       int                `json:"resolutionHeight"`
	Watermark              bool               `json:"watermark"`
	SubtitleAccess         SubtitleAccess     `json:"subtitleAccess"`
	SubtitlePresets        []string           `json:"subtitlePresets"`
	QueuePriority          QueuePriorityLabel `json:"queuePriority"`
	AutoZoomMax            float64            `json:"autoZoomMax"`
	AdvancedEffects        bool               `json:"advancedEffects"`
	MonthlyRenders         int64              `json:"monthlyRenders"`
	DailyRenders           int64              `json:"dailyRenders"`
	MonthlyMinutes         int64              `json:"monthlyMinutes"`
	Lifetime               bool               `json:"lifetime"`
	FutureFeaturesIncluded bool               `json:"futureFeaturesIncluded"`
	Overridden             bool               `json:"overridden"`

	caps CapabilitySet
}

// Capabilities returns the effective capability set behind this view
func (f ResolvedFeatures) Capabilities() CapabilitySet {
	return f.caps
}

// Resolver derives ResolvedFeatures from the catalog plus optional overrides
type Resolver struct {
	catalog *Catalog
	logger  *zap.Logger
}

// NewResolver creates a new resolver
func NewResolver(catalog *Catalog, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{catalog: catalog, logger: logger}
}

// Catalog returns the catalog this resolver reads from
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve builds the feature view for a tier. Override fields that would lower
// the baseline or name unknown presets are ignored and logged.
func (r *Resolver) Resolve(tier Tier, overrides *Overrides) ResolvedFeatures {
	base := r.catalog.CapabilitiesFor(tier)
	caps, rejected := overrides.apply(base)
	if len(rejected) > 0 {
		r.logger.Warn("Ignoring invalid entitlement override fields",
			zap.String("tier", tier.String()),
			zap.Strings("fields", rejected),
		)
	}
	f := project(tier, r.catalog.Version(), caps)
	f.Overridden = !overrides.IsEmpty() && len(rejected) < overrideFieldCount(overrides)
	return f
}

// ValidateOverrides rejects an override that names unknown presets or would
// restrict the tier baseline
func (r *Resolver) ValidateOverrides(tier Tier, overrides Overrides) error {
	var unknown []string
	for _, id := range overrides.ExtraPresets {
		if !IsKnownPreset(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, strings.Join(unknown, ", "))
	}
	_, rejected := overrides.apply(r.catalog.CapabilitiesFor(tier))
	if len(rejected) > 0 {
		return fmt.Errorf("%w: %s", ErrRestrictingOverride, strings.Join(rejected, ", "))
	}
	return nil
}

func overrideFieldCount(o *Overrides) int {
	n := 0
	for _, set := range []bool{
		o.ExportQuality != nil, o.Watermark != nil, o.QueuePriority != nil,
		o.AllPresets || len(o.ExtraPresets) > 0, o.AutoZoomCeiling != nil, o.AdvancedEffects != nil,
		o.MonthlyRenders != nil, o.DailyRenders != nil, o.MonthlyMinutes != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func project(tier Tier, version string, caps CapabilitySet) ResolvedFeatures {
	priority := QueueStandard
	if caps.QueuePriority {
		priority = QueuePriority
	}
	presets := caps.SubtitlePresets.IDs()
	if presets == nil {
		presets = []string{}
	}
	return ResolvedFeatures{
		Tier:                   tier,
		CatalogVersion:         version,
		Resolution:             caps.ExportQuality,
		ResolutionHeight:       caps.ExportQuality.Height(),
		Watermark:              caps.Watermark,
		SubtitleAccess:         caps.SubtitlePresets.Level(),
		SubtitlePresets:        presets,
		QueuePriority:          priority,
		AutoZoomMax:            caps.AutoZoomCeiling,
		AdvancedEffects:        caps.AdvancedEffects,
		MonthlyRenders:         caps.MonthlyRenders,
		DailyRenders:           caps.DailyRenders,
		MonthlyMinutes:         caps.MonthlyMinutes,
		Lifetime:               caps.Lifetime,
		FutureFeaturesIncluded: caps.FutureFeaturesIncluded,
		caps:                   caps,
	}
}
