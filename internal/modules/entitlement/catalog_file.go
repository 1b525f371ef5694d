package entitlement

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML layout of a tier table
type catalogFile struct {
	Version string                     `yaml:"version"`
	Tiers   map[string]capabilityEntry `yaml:"tiers"`
}

type capabilityEntry struct {
	ExportQuality          Quality   `yaml:"export_quality"`
	Watermark              bool      `yaml:"watermark"`
	QueuePriority          bool      `yaml:"queue_priority"`
	SubtitlePresets        yaml.Node `yaml:"subtitle_presets"`
	AutoZoomCeiling        float64   `yaml:"auto_zoom_ceiling"`
	AdvancedEffects        bool      `yaml:"advanced_effects"`
	MonthlyRenders         quotaYAML `yaml:"monthly_renders"`
	DailyRenders           quotaYAML `yaml:"daily_renders"`
	MonthlyMinutes         quotaYAML `yaml:"monthly_minutes"`
	Lifetime               bool      `yaml:"lifetime"`
	FutureFeaturesIncluded bool      `yaml:"future_features_included"`
}

// quotaYAML accepts an integer or "unlimited". set stays false when the key is
// absent or null.
type quotaYAML struct {
	value int64
	set   bool
}

func (q *quotaYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.ShortTag() == "!!null" {
		return nil
	}
	if node.Value == "unlimited" {
		q.value, q.set = Unlimited, true
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("quota must be an integer or \"unlimited\": %w", err)
	}
	q.value, q.set = n, true
	return nil
}

// required returns the quota or an error naming the missing key
func (q quotaYAML) required(key string) (int64, error) {
	if !q.set {
		return 0, fmt.Errorf("%s is required; use \"unlimited\" for no ceiling", key)
	}
	return q.value, nil
}

// optional returns the quota, treating a missing key as no cap
func (q quotaYAML) optional() int64 {
	if !q.set {
		return Unlimited
	}
	return q.value
}

func decodePresetAccess(node yaml.Node) (PresetAccess, error) {
	switch node.Kind {
	case 0:
		return ExplicitPresets(), nil
	case yaml.ScalarNode:
		if node.Value == "all" {
			return AllPresets(), nil
		}
		return PresetAccess{}, fmt.Errorf("subtitle_presets must be \"all\" or a list, got %q", node.Value)
	case yaml.SequenceNode:
		var ids []string
		if err := node.Decode(&ids); err != nil {
			return PresetAccess{}, err
		}
		return ExplicitPresets(ids...), nil
	}
	return PresetAccess{}, fmt.Errorf("subtitle_presets must be \"all\" or a list")
}

// ParseCatalog decodes and validates a YAML tier table
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidCatalog)
	}

	tiers := make(map[Tier]CapabilitySet, len(f.Tiers))
	for name, e := range f.Tiers {
		t, ok := LookupTier(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidCatalog, name)
		}
		presets, err := decodePresetAccess(e.SubtitlePresets)
		if err != nil {
			return nil, fmt.Errorf("%w: tier %s: %v", ErrInvalidCatalog, t, err)
		}
		monthlyRenders, err := e.MonthlyRenders.required("monthly_renders")
		if err != nil {
			return nil, fmt.Errorf("%w: tier %s: %v", ErrInvalidCatalog, t, err)
		}
		monthlyMinutes, err := e.MonthlyMinutes.required("monthly_minutes")
		if err != nil {
			return nil, fmt.Errorf("%w: tier %s: %v", ErrInvalidCatalog, t, err)
		}
		tiers[t] = CapabilitySet{
			ExportQuality:          e.ExportQuality,
			Watermark:              e.Watermark,
			QueuePriority:          e.QueuePriority,
			SubtitlePresets:        presets,
			AutoZoomCeiling:        e.AutoZoomCeiling,
			AdvancedEffects:        e.AdvancedEffects,
			MonthlyRenders:         monthlyRenders,
			DailyRenders:           e.DailyRenders.optional(),
			MonthlyMinutes:         monthlyMinutes,
			Lifetime:               e.Lifetime,
			FutureFeaturesIncluded: e.FutureFeaturesIncluded,
		}
	}
	return NewCatalog(f.Version, tiers)
}

// LoadCatalog reads a tier table from disk. An empty path yields the built-in table.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}
