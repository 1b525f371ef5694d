package entitlement

import (
	"fmt"
	"strings"
)

// Quality is an export resolution. Values are ordered: 720p < 1080p < 4k.
type Quality int

const (
	// QualityUnset means the request does not ask for a specific quality
	QualityUnset Quality = iota
	Quality720p
	Quality1080p
	Quality4K
)

// Qualities returns every valid quality, lowest first
func Qualities() []Quality {
	return []Quality{Quality720p, Quality1080p, Quality4K}
}

// ParseQuality parses labels such as "720p", "1080p", "4k" or "2160p"
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "720p", "720":
		return Quality720p, nil
	case "1080p", "1080":
		return Quality1080p, nil
	case "4k", "2160p", "2160":
		return Quality4K, nil
	case "":
		return QualityUnset, nil
	}
	return QualityUnset, fmt.Errorf("unknown export quality %q", s)
}

// Valid reports whether q is one of the concrete qualities
func (q Quality) Valid() bool {
	return q >= Quality720p && q <= Quality4K
}

// Height returns the vertical resolution in pixels
func (q Quality) Height() int {
	switch q {
	case Quality720p:
		return 720
	case Quality1080p:
		return 1080
	case Quality4K:
		return 2160
	}
	return 0
}

func (q Quality) String() string {
	switch q {
	case Quality720p:
		return "720p"
	case Quality1080p:
		return "1080p"
	case Quality4K:
		return "4k"
	}
	return ""
}

// MarshalText implements encoding.TextMarshaler
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (q *Quality) UnmarshalText(b []byte) error {
	parsed, err := ParseQuality(string(b))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
