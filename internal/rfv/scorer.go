package rfv

import "github.com/boddenberg/rfv-config-bfa-go/internal/domain"

// FallbackScore is returned when no bin contains the value.
const FallbackScore = domain.MinScore

// Lookup scans the bins in list order and returns the score of the first bin
// containing the normalised value. ok is false when no bin matched.
func Lookup(d domain.Dimension, raw float64, bins []domain.Bin) (score int, ok bool) {
	v := Normalize(d, raw)
	for _, b := range bins {
		if contains(d, b, v) {
			return b.Score, true
		}
	}
	return FallbackScore, false
}

// Score returns the 1..5 score of a raw metric, or FallbackScore.
func Score(d domain.Dimension, raw float64, bins []domain.Bin) int {
	s, _ := Lookup(d, raw, bins)
	return s
}

// ScoreCustomer scores the three dimensions of one customer.
func ScoreCustomer(rs *domain.RuleSet, m domain.CustomerMetrics) domain.Scores {
	return domain.Scores{
		R: Score(domain.DimensionRecency, m.DaysSinceLastPurchase, rs.Recency),
		F: Score(domain.DimensionFrequency, m.PurchaseCount, rs.Frequency),
		V: Score(domain.DimensionValue, m.MonetaryValue, rs.Value),
	}
}
