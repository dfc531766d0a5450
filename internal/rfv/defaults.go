package rfv

import (
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
)

// Default thresholds pre-populated in a new draft.
var (
	defaultMaxDias    = map[int]float64{5: 30, 4: 60, 3: 90, 2: 180}
	defaultMinCompras = map[int]float64{5: 10, 4: 6, 3: 3, 2: 2}
	defaultMinValor   = map[int]float64{5: 5000, 4: 2000, 3: 1000, 2: 500}
)

// DefaultRuleSet returns the bins a new draft starts with.
func DefaultRuleSet() domain.RuleSet {
	return domain.RuleSet{
		Recency:   BinsFromThresholds(domain.DimensionRecency, defaultMaxDias),
		Frequency: BinsFromThresholds(domain.DimensionFrequency, defaultMinCompras),
		Value:     BinsFromThresholds(domain.DimensionValue, defaultMinValor),
	}
}

// DefaultAutomaticRanges splits 3..15 into bronze 3-7, prata 8-11, ouro 12-15.
func DefaultAutomaticRanges() domain.AutomaticRanges {
	return domain.AutomaticRanges{
		Bronze: domain.TierRange{Min: 3, Max: 7},
		Prata:  domain.TierRange{Min: 8, Max: 11},
		Ouro:   domain.TierRange{Min: 12, Max: 15},
	}
}

// DefaultSegments is the starting point offered when switching to the manual strategy.
func DefaultSegments() []domain.Segment {
	return []domain.Segment{
		{Name: "Campeões", Rules: domain.SegmentRules{R: ">=4", F: ">=4", V: ">=4"}, Priority: 1},
		{Name: "Leais", Rules: domain.SegmentRules{F: ">=4"}, Priority: 2},
		{Name: "Em risco", Rules: domain.SegmentRules{R: "<=2", F: ">=3"}, Priority: 3},
		{Name: "Novos", Rules: domain.SegmentRules{R: ">=4", F: "<=2"}, Priority: 4},
		{Name: "Perdidos", Rules: domain.SegmentRules{R: "=1"}, Priority: 5},
	}
}

// NewDraft returns a draft pre-populated with the defaults, effective from today.
func NewDraft(now time.Time) *domain.ParameterSet {
	ranges := DefaultAutomaticRanges()
	return &domain.ParameterSet{
		Name:            "",
		RuleSet:         DefaultRuleSet(),
		Strategy:        domain.StrategyAutomatic,
		AutomaticRanges: &ranges,
		Segments:        []domain.Segment{},
		EffectiveFrom:   domain.DateOf(now),
	}
}
