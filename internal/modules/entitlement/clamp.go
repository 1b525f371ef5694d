package entitlement

import "math"

// ClampQuality projects a requested export quality down to the tier ceiling.
// Unset or unknown requests clamp to the lowest quality.
func ClampQuality(requested Quality, caps CapabilitySet) Quality {
	if !requested.Valid() {
		requested = Quality720p
	}
	if requested > caps.ExportQuality {
		return caps.ExportQuality
	}
	return requested
}

// IsPresetAllowed reports whether a subtitle preset is reachable on the tier
func IsPresetAllowed(presetID string, caps CapabilitySet) bool {
	return caps.SubtitlePresets.Allows(presetID)
}

// ClampPreset returns presetID when it is allowed, otherwise the tier's first
// reachable preset
func ClampPreset(presetID string, caps CapabilitySet) string {
	if IsPresetAllowed(presetID, caps) {
		return presetID
	}
	if caps.SubtitlePresets.Allows(DefaultPresetID) {
		return DefaultPresetID
	}
	if ids := caps.SubtitlePresets.IDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// ClampAutoZoom bounds a requested zoom factor to [1.0, tier ceiling]
func ClampAutoZoom(requested float64, caps CapabilitySet) float64 {
	if math.IsNaN(requested) || requested < MinAutoZoom {
		return MinAutoZoom
	}
	return math.Min(requested, caps.AutoZoomCeiling)
}

// ClampQuality clamps against the resolved feature view
func (f ResolvedFeatures) ClampQuality(requested Quality) Quality {
	return ClampQuality(requested, f.caps)
}

// IsPresetAllowed checks a preset against the resolved feature view
func (f ResolvedFeatures) IsPresetAllowed(presetID string) bool {
	return IsPresetAllowed(presetID, f.caps)
}

// ClampPreset picks an allowed preset from the resolved feature view
func (f ResolvedFeatures) ClampPreset(presetID string) string {
	return ClampPreset(presetID, f.caps)
}

// ClampAutoZoom clamps a zoom factor against the resolved feature view
func (f ResolvedFeatures) ClampAutoZoom(requested float64) float64 {
	return ClampAutoZoom(requested, f.caps)
}
