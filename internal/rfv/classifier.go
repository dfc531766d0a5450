package rfv

import "github.com/boddenberg/rfv-config-bfa-go/internal/domain"

// Classify maps a summed score onto the first tier whose range contains it.
// Returns TierUnclassified when the ranges leave the sum uncovered.
func Classify(sum int, ranges domain.AutomaticRanges) domain.Tier {
	for _, t := range tiers(ranges) {
		if sum >= t.rng.Min && sum <= t.rng.Max {
			return t.tier
		}
	}
	return domain.TierUnclassified
}

type namedRange struct {
	tier domain.Tier
	rng  domain.TierRange
}

// tiers returns the ranges in ascending order.
func tiers(r domain.AutomaticRanges) []namedRange {
	return []namedRange{
		{domain.TierBronze, r.Bronze},
		{domain.TierPrata, r.Prata},
		{domain.TierOuro, r.Ouro},
	}
}
