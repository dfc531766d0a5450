// Package rfv implements RFV scoring: bin lookup per dimension, automatic
// tier classification over the summed score, manual segment matching, and
// the validation pass a configuration must pass before it is saved.
package rfv

import (
	"math"
	"sort"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
)

// Step returns the granularity of a dimension: whole days, whole purchases, cents.
func Step(d domain.Dimension) float64 {
	if d == domain.DimensionValue {
		return 0.01
	}
	return 1
}

// Normalize brings a raw metric onto the dimension's granularity.
// Days and purchases are truncated, money is rounded to cents.
func Normalize(d domain.Dimension, raw float64) float64 {
	if d == domain.DimensionValue {
		return roundTo(raw, Step(d))
	}
	return math.Floor(raw)
}

// HigherIsBetter reports whether larger raw values earn larger scores.
// Recency is the only inverted axis (fewer days since last purchase is better).
func HigherIsBetter(d domain.Dimension) bool {
	return d != domain.DimensionRecency
}

func roundTo(v, step float64) float64 {
	return math.Round(v/step) * step
}

func epsilon(d domain.Dimension) float64 {
	return Step(d) / 100
}

func contains(d domain.Dimension, b domain.Bin, v float64) bool {
	eps := epsilon(d)
	if b.LowerBound != nil && v < *b.LowerBound-eps {
		return false
	}
	if b.UpperBound != nil && v > *b.UpperBound+eps {
		return false
	}
	return true
}

// Thresholds extracts the single boundary per score that the external API stores:
// the upper bound for Recency (max_dias), the lower bound for Frequency and
// Value (min_compras, min_valor). The open-ended score has no entry.
func Thresholds(d domain.Dimension, bins []domain.Bin) map[int]float64 {
	out := make(map[int]float64, len(bins))
	for _, b := range bins {
		bound := b.LowerBound
		if !HigherIsBetter(d) {
			bound = b.UpperBound
		}
		if bound != nil {
			out[b.Score] = *bound
		}
	}
	return out
}

// BinsFromThresholds rebuilds the closed bins of a dimension from its stored
// thresholds. Adjacent bins are one granularity step apart, so
// max_dias 30/60/90/180 yields 5:[..30] 4:[31,60] 3:[61,90] 2:[91,180] 1:[181..].
// A missing threshold leaves the matching bound open; Validate reports it.
func BinsFromThresholds(d domain.Dimension, thresholds map[int]float64) []domain.Bin {
	step := Step(d)
	bound := func(score int, shift float64) *float64 {
		t, ok := thresholds[score]
		if !ok {
			return nil
		}
		v := roundTo(t+shift, step)
		return &v
	}

	bins := make([]domain.Bin, 0, domain.BinsPerDimension)
	for score := domain.MaxScore; score >= domain.MinScore; score-- {
		b := domain.Bin{Score: score}
		if HigherIsBetter(d) {
			if score > domain.MinScore {
				b.LowerBound = bound(score, 0)
			}
			if score < domain.MaxScore {
				b.UpperBound = bound(score+1, -step)
			}
		} else {
			if score > domain.MinScore {
				b.UpperBound = bound(score, 0)
			}
			if score < domain.MaxScore {
				b.LowerBound = bound(score+1, step)
			}
		}
		bins = append(bins, b)
	}
	return bins
}

// orderByValue returns the bins sorted from the lowest to the highest raw values.
func orderByValue(d domain.Dimension, bins []domain.Bin) []domain.Bin {
	sorted := append([]domain.Bin(nil), bins...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if HigherIsBetter(d) {
			return sorted[i].Score < sorted[j].Score
		}
		return sorted[i].Score > sorted[j].Score
	})
	return sorted
}
