package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierForBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0, "iron"},
		{10, "iron"},
		{11, "copper"},
		{20, "copper"},
		{30, "bronze"},
		{40, "silver"},
		{50, "gold"},
		{51, "platinum"},
		{60, "platinum"},
		{61, "ruby"},
		{70, "ruby"},
		{73, "sapphire"},
		{90, "emerald"},
		{91, "diamond"},
		{100, "diamond"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TierFor(c.score).Name, "score %v", c.score)
	}
}

func TestTierForClamps(t *testing.T) {
	assert.Equal(t, "iron", TierFor(-5).Name)
	assert.Equal(t, "diamond", TierFor(250).Name)
}

func TestTierForMonotonic(t *testing.T) {
	prev := -1
	for s := 0.0; s <= 100; s += 0.5 {
		order := TierOrder(TierFor(s).Name)
		require.GreaterOrEqual(t, order, prev, "score %v", s)
		prev = order
	}
}

func TestTierGroups(t *testing.T) {
	for _, tier := range Tiers {
		if tier.MinScore <= 60 && tier.Name != "ruby" {
			if tier.MaxScore <= 60 {
				assert.Equal(t, GroupMetals, tier.Group, tier.Name)
			}
		}
		if tier.MinScore >= 61 {
			assert.Equal(t, GroupGems, tier.Group, tier.Name)
		}
	}
}

func TestTierOrderUnknown(t *testing.T) {
	assert.Equal(t, -1, TierOrder("obsidian"))
	_, ok := TierByName("obsidian")
	assert.False(t, ok)
	assert.True(t, KnownTier("diamond"))
}

func TestFlagsHas(t *testing.T) {
	f := Flags{FlagSlowBuy, FlagSuper}
	assert.True(t, f.Has(FlagSlowBuy))
	assert.False(t, f.Has(FlagOneGPDump))
}
