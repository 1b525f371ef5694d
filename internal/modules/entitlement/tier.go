package entitlement

import "strings"

// Tier is a named subscription level
type Tier string

// Tier constants (single source of truth)
const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierCreator Tier = "creator"
	TierStudio  Tier = "studio"

	// TierFounder is the lifetime tier. It carries studio-or-better capabilities
	// but is not part of the upgrade ladder.
	TierFounder Tier = "founder"
)

// ladder is the ordered list of purchasable recurring tiers, lowest first
var ladder = []Tier{TierFree, TierStarter, TierCreator, TierStudio}

// Ladder returns the upgrade ladder from lowest to highest tier
func Ladder() []Tier {
	out := make([]Tier, len(ladder))
	copy(out, ladder)
	return out
}

// AllTiers returns every known tier, ladder first, founder last
func AllTiers() []Tier {
	return append(Ladder(), TierFounder)
}

// TopTier returns the highest ordinary tier on the ladder
func TopTier() Tier {
	return ladder[len(ladder)-1]
}

// LookupTier parses a tier string strictly
func LookupTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t == TierFounder {
		return t, true
	}
	if _, ok := ladderIndex(t); ok {
		return t, true
	}
	return "", false
}

// ParseTier normalizes a stored or client-supplied tier. Unknown or malformed
// values become free; entitlement checks must never hard-fail on a bad tier.
func ParseTier(s string) Tier {
	if t, ok := LookupTier(s); ok {
		return t
	}
	return TierFree
}

// OnLadder reports whether the tier takes part in upgrade recommendations
func (t Tier) OnLadder() bool {
	_, ok := ladderIndex(t)
	return ok
}

// IsPaid reports whether the tier is anything other than free
func (t Tier) IsPaid() bool {
	return t != TierFree && (t == TierFounder || t.OnLadder())
}

// Satisfies reports whether t is at least min
func (t Tier) Satisfies(min Tier) bool {
	return Compare(t, min) >= 0
}

func (t Tier) String() string {
	return string(t)
}

// Compare is the only tier ordering. Ladder tiers compare by position;
// founder ranks above every ladder tier and equal to itself. Callers must
// normalize with ParseTier first; anything else ranks as free.
func Compare(a, b Tier) int {
	ra, rb := rank(a), rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

func rank(t Tier) int {
	if t == TierFounder {
		return len(ladder)
	}
	if i, ok := ladderIndex(t); ok {
		return i
	}
	return 0
}

func ladderIndex(t Tier) (int, bool) {
	for i, l := range ladder {
		if l == t {
			return i, true
		}
	}
	return -1, false
}
