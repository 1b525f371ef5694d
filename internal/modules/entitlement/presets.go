package entitlement

import (
	"sort"
	"strings"
)

// PresetDefinition describes a subtitle style preset. Presets are independent of
// tiers; a tier only gates which preset IDs are reachable.
type PresetDefinition struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// DefaultPresetID is the preset every tier can use
const DefaultPresetID = "basic_clean"

var presetRegistry = []PresetDefinition{
	{ID: "basic_clean", Label: "Basic Clean", Description: "White sans-serif captions with a soft shadow"},
	{ID: "bold_pop", Label: "Bold Pop", Description: "Heavy weight words that pop in one at a time"},
	{ID: "minimal_caption", Label: "Minimal", Description: "Small lower-third captions without background"},
	{ID: "karaoke_glow", Label: "Karaoke Glow", Description: "Word-by-word highlight following the speech"},
	{ID: "neon_outline", Label: "Neon Outline", Description: "Outlined text with a coloured glow"},
	{ID: "typewriter", Label: "Typewriter", Description: "Characters typed in as they are spoken"},
	{ID: "cinematic_lower", Label: "Cinematic", Description: "Letterboxed serif captions"},
}

// Presets returns every known preset definition
func Presets() []PresetDefinition {
	out := make([]PresetDefinition, len(presetRegistry))
	copy(out, presetRegistry)
	return out
}

// LookupPreset finds a preset definition by ID
func LookupPreset(id string) (PresetDefinition, bool) {
	for _, p := range presetRegistry {
		if p.ID == id {
			return p, true
		}
	}
	return PresetDefinition{}, false
}

// IsKnownPreset reports whether id names a registered preset
func IsKnownPreset(id string) bool {
	_, ok := LookupPreset(id)
	return ok
}

// SubtitleAccess summarizes how much of the preset registry a tier can reach
type SubtitleAccess string

const (
	SubtitleAccessAll     SubtitleAccess = "all"
	SubtitleAccessLimited SubtitleAccess = "limited"
	SubtitleAccessNone    SubtitleAccess = "none"
)

// PresetAccess is either every preset or an explicit set of preset IDs.
// The zero value is an empty explicit set.
type PresetAccess struct {
	all bool
	ids map[string]struct{}
}

// AllPresets grants every known preset
func AllPresets() PresetAccess {
	return PresetAccess{all: true}
}

// ExplicitPresets grants exactly the given preset IDs
func ExplicitPresets(ids ...string) PresetAccess {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return PresetAccess{ids: set}
}

// IsAll reports whether this is the "all presets" variant
func (p PresetAccess) IsAll() bool {
	return p.all
}

// Allows reports whether id is reachable. The all variant short-circuits to
// true for any registered preset.
func (p PresetAccess) Allows(id string) bool {
	if !IsKnownPreset(id) {
		return false
	}
	if p.all {
		return true
	}
	_, ok := p.ids[id]
	return ok
}

// IDs returns the reachable preset IDs in registry order
func (p PresetAccess) IDs() []string {
	var out []string
	for _, def := range presetRegistry {
		if p.all {
			out = append(out, def.ID)
			continue
		}
		if _, ok := p.ids[def.ID]; ok {
			out = append(out, def.ID)
		}
	}
	return out
}

// ExplicitIDs returns the raw explicit set, sorted. It is empty for the all variant.
func (p PresetAccess) ExplicitIDs() []string {
	out := make([]string, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Level derives the subtitle access level
func (p PresetAccess) Level() SubtitleAccess {
	switch {
	case p.all:
		return SubtitleAccessAll
	case len(p.ids) > 0:
		return SubtitleAccessLimited
	default:
		return SubtitleAccessNone
	}
}

// Covers reports whether every preset reachable through other is reachable here
func (p PresetAccess) Covers(other PresetAccess) bool {
	if p.all {
		return true
	}
	if other.all {
		return false
	}
	for id := range other.ids {
		if _, ok := p.ids[id]; !ok {
			return false
		}
	}
	return true
}

// Union returns the access granted by either p or other
func (p PresetAccess) Union(other PresetAccess) PresetAccess {
	if p.all || other.all {
		return AllPresets()
	}
	merged := make([]string, 0, len(p.ids)+len(other.ids))
	merged = append(merged, p.ExplicitIDs()...)
	merged = append(merged, other.ExplicitIDs()...)
	return ExplicitPresets(merged...)
}

