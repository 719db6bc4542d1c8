package models

// Tier classifies a user for quota purposes.
type Tier string

const (
	TierNormal  Tier = "NORMAL"
	TierPremium Tier = "PREMIUM"
)

// Monthly quota per tier, rolling 30-day window.
var tierLimits = map[Tier]int{
	TierNormal:  5,
	TierPremium: 15,
}

// MonthlyLimit returns the number of successful score calculations allowed
// per rolling window. Unknown tiers fall back to the NORMAL limit.
func (t Tier) MonthlyLimit() int {
	if limit, ok := tierLimits[t]; ok {
		return limit
	}
	return tierLimits[TierNormal]
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}
