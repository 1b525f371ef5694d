package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Tier
	}{
		{name: "free", input: "free", expected: TierFree},
		{name: "starter", input: "starter", expected: TierStarter},
		{name: "creator", input: "creator", expected: TierCreator},
		{name: "studio", input: "studio", expected: TierStudio},
		{name: "founder", input: "founder", expected: TierFounder},
		{name: "mixed case and spaces", input: "  Studio ", expected: TierStudio},
		{name: "unknown tier defaults to free", input: "enterprise", expected: TierFree},
		{name: "empty tier defaults to free", input: "", expected: TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseTier(tt.input))
		})
	}
}

func TestLookupTier(t *testing.T) {
	tier, ok := LookupTier("creator")
	assert.True(t, ok)
	assert.Equal(t, TierCreator, tier)

	_, ok = LookupTier("pro")
	assert.False(t, ok)
}

func TestLadderExcludesFounder(t *testing.T) {
	assert.Equal(t, []Tier{TierFree, TierStarter, TierCreator, TierStudio}, Ladder())
	assert.NotContains(t, Ladder(), TierFounder)
	assert.Equal(t, TierStudio, TopTier())
	assert.False(t, TierFounder.OnLadder())

	l := Ladder()
	l[0] = TierStudio
	assert.Equal(t, TierFree, Ladder()[0], "Ladder must return a copy")
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Tier
		expected int
	}{
		{name: "free below starter", a: TierFree, b: TierStarter, expected: -1},
		{name: "studio above creator", a: TierStudio, b: TierCreator, expected: 1},
		{name: "equal", a: TierCreator, b: TierCreator, expected: 0},
		{name: "founder above studio", a: TierFounder, b: TierStudio, expected: 1},
		{name: "free below founder", a: TierFree, b: TierFounder, expected: -1},
		{name: "founder equals founder", a: TierFounder, b: TierFounder, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.expected, Compare(tt.b, tt.a))
		})
	}
}

func TestTierSatisfies(t *testing.T) {
	assert.True(t, TierFounder.Satisfies(TierStudio))
	assert.True(t, TierCreator.Satisfies(TierStarter))
	assert.False(t, TierStarter.Satisfies(TierCreator))
	assert.True(t, TierFree.Satisfies(TierFree))
}

func TestTierIsPaid(t *testing.T) {
	assert.False(t, TierFree.IsPaid())
	assert.True(t, TierStarter.IsPaid())
	assert.True(t, TierFounder.IsPaid())
	assert.False(t, Tier("gold").IsPaid())
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		input    string
		expected Quality
		wantErr  bool
	}{
		{input: "720p", expected: Quality720p},
		{input: "1080", expected: Quality1080p},
		{input: "4K", expected: Quality4K},
		{input: "2160p", expected: Quality4K},
		{input: "", expected: QualityUnset},
		{input: "8k", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q, err := ParseQuality(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, q)
		})
	}
}

func TestQualityOrderingAndHeight(t *testing.T) {
	assert.True(t, Quality720p < Quality1080p)
	assert.True(t, Quality1080p < Quality4K)
	assert.Equal(t, 720, Quality720p.Height())
	assert.Equal(t, 1080, Quality1080p.Height())
	assert.Equal(t, 2160, Quality4K.Height())
	assert.False(t, QualityUnset.Valid())
}
