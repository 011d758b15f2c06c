package domain

// Tier groups.
const (
	GroupMetals = "metals"
	GroupGems   = "gems"
)

// Tier is one band of the dump score scale.
type Tier struct {
	Name     string `json:"name"`
	Emoji    string `json:"emoji"`
	Group    string `json:"group"`
	MinScore int    `json:"min_score"`
	MaxScore int    `json:"max_score"`
}

// Tiers is the fixed ten-band scale, ordered ascending. Metals cover scores
// 0-60, gems 61-100.
var Tiers = []Tier{
	{Name: "iron", Emoji: "🔩", Group: GroupMetals, MinScore: 0, MaxScore: 10},
	{Name: "copper", Emoji: "🪙", Group: GroupMetals, MinScore: 11, MaxScore: 20},
	{Name: "bronze", Emoji: "🏅", Group: GroupMetals, MinScore: 21, MaxScore: 30},
	{Name: "silver", Emoji: "🥈", Group: GroupMetals, MinScore: 31, MaxScore: 40},
	{Name: "gold", Emoji: "🥇", Group: GroupMetals, MinScore: 41, MaxScore: 50},
	{Name: "platinum", Emoji: "⚪", Group: GroupMetals, MinScore: 51, MaxScore: 60},
	{Name: "ruby", Emoji: "💎🔴", Group: GroupGems, MinScore: 61, MaxScore: 70},
	{Name: "sapphire", Emoji: "💎🔵", Group: GroupGems, MinScore: 71, MaxScore: 80},
	{Name: "emerald", Emoji: "💎🟢", Group: GroupGems, MinScore: 81, MaxScore: 90},
	{Name: "diamond", Emoji: "💎", Group: GroupGems, MinScore: 91, MaxScore: 100},
}

// TierFor maps a dump score to its tier. Scores are clamped to [0, 100]
// first, so every score lands in exactly one band.
func TierFor(score float64) Tier {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	for _, t := range Tiers {
		if score <= float64(t.MaxScore) {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

// TierOrder returns the ascending rank of a tier name, or -1 if unknown.
func TierOrder(name string) int {
	for i, t := range Tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// TierByName looks a tier up by name.
func TierByName(name string) (Tier, bool) {
	for _, t := range Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// KnownTier reports whether name is one of the ten tier names.
func KnownTier(name string) bool {
	return TierOrder(name) >= 0
}
