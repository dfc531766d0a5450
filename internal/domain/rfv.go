package domain

import "time"

// ============================================================
// RFV (Recência / Frequência / Valor) configuration model
// ============================================================

// Dimension identifies one of the three RFV axes.
type Dimension string

const (
	DimensionRecency   Dimension = "recency"
	DimensionFrequency Dimension = "frequency"
	DimensionValue     Dimension = "value"
)

// Dimensions lists the axes in R, F, V order.
var Dimensions = []Dimension{DimensionRecency, DimensionFrequency, DimensionValue}

// Short returns the one-letter key used in segment rules (R, F, V).
func (d Dimension) Short() string {
	switch d {
	case DimensionRecency:
		return "R"
	case DimensionFrequency:
		return "F"
	case DimensionValue:
		return "V"
	}
	return string(d)
}

const (
	MinScore = 1
	MaxScore = 5

	// BinsPerDimension is the number of score bins each dimension carries.
	BinsPerDimension = MaxScore - MinScore + 1

	MinScoreSum = MinScore * 3
	MaxScoreSum = MaxScore * 3
)

// Bin maps a closed numeric range to a score. A nil bound is open-ended.
type Bin struct {
	Score      int      `json:"score"`
	LowerBound *float64 `json:"lowerBound,omitempty"`
	UpperBound *float64 `json:"upperBound,omitempty"`
}

// RuleSet holds the five bins of every dimension.
type RuleSet struct {
	Recency   []Bin `json:"recency"`
	Frequency []Bin `json:"frequency"`
	Value     []Bin `json:"value"`
}

// Bins returns the bin list of a dimension.
func (r *RuleSet) Bins(d Dimension) []Bin {
	switch d {
	case DimensionRecency:
		return r.Recency
	case DimensionFrequency:
		return r.Frequency
	case DimensionValue:
		return r.Value
	}
	return nil
}

// CalculationStrategy selects how scores become a class.
type CalculationStrategy string

const (
	StrategyAutomatic CalculationStrategy = "automatic"
	StrategyManual    CalculationStrategy = "manual"
)

// Tier is the class produced by the automatic strategy.
type Tier string

const (
	TierBronze       Tier = "bronze"
	TierPrata        Tier = "prata"
	TierOuro         Tier = "ouro"
	TierUnclassified Tier = ""
)

// TierRange is an inclusive range over the summed score.
type TierRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// AutomaticRanges are the tier boundaries for the automatic strategy.
type AutomaticRanges struct {
	Bronze TierRange `json:"bronze"`
	Prata  TierRange `json:"prata"`
	Ouro   TierRange `json:"ouro"`
}

// SegmentRules holds the optional comparison expression per dimension (e.g. ">=4").
type SegmentRules struct {
	R string `json:"R,omitempty"`
	F string `json:"F,omitempty"`
	V string `json:"V,omitempty"`
}

// For returns the expression configured for a dimension.
func (r SegmentRules) For(d Dimension) string {
	switch d {
	case DimensionRecency:
		return r.R
	case DimensionFrequency:
		return r.F
	case DimensionValue:
		return r.V
	}
	return ""
}

// Segment is a named rule group of the manual strategy.
// Lower Priority values are evaluated first.
type Segment struct {
	ID       int          `json:"id,omitempty"`
	Name     string       `json:"name"`
	Rules    SegmentRules `json:"rules"`
	Priority int          `json:"priority"`
}

// ParameterSet is one named RFV configuration.
type ParameterSet struct {
	ID              int                 `json:"id,omitempty"`
	Name            string              `json:"name"`
	FilialID        *int                `json:"filialId"` // nil = all branches
	RuleSet         RuleSet             `json:"ruleSet"`
	Strategy        CalculationStrategy `json:"calculationStrategy"`
	AutomaticRanges *AutomaticRanges    `json:"automaticRanges,omitempty"`
	Segments        []Segment           `json:"segments"`
	EffectiveFrom   Date                `json:"effectiveFrom"`
	EffectiveTo     *Date               `json:"effectiveTo,omitempty"`
}

// IsNew reports whether the configuration has not been persisted yet.
func (p *ParameterSet) IsNew() bool {
	return p.ID == 0
}

// IsActiveAt reports whether effectiveFrom <= now < effectiveTo (or no end date).
func (p *ParameterSet) IsActiveAt(now time.Time) bool {
	today := DateOf(now)
	if today.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || today.Before(*p.EffectiveTo)
}

// SameScope reports whether both configurations target the same branch scope.
// A nil FilialID ("all branches") is its own scope.
func (p *ParameterSet) SameScope(other *ParameterSet) bool {
	if p.FilialID == nil || other.FilialID == nil {
		return p.FilialID == nil && other.FilialID == nil
	}
	return *p.FilialID == *other.FilialID
}

// Overlaps reports whether the effective periods of both configurations intersect.
func (p *ParameterSet) Overlaps(other *ParameterSet) bool {
	if p.EffectiveTo != nil && !other.EffectiveFrom.Before(*p.EffectiveTo) {
		return false
	}
	if other.EffectiveTo != nil && !p.EffectiveFrom.Before(*other.EffectiveTo) {
		return false
	}
	return true
}

// Clone returns a deep copy.
func (p *ParameterSet) Clone() *ParameterSet {
	c := *p
	if p.FilialID != nil {
		id := *p.FilialID
		c.FilialID = &id
	}
	if p.EffectiveTo != nil {
		to := *p.EffectiveTo
		c.EffectiveTo = &to
	}
	if p.AutomaticRanges != nil {
		r := *p.AutomaticRanges
		c.AutomaticRanges = &r
	}
	c.RuleSet = RuleSet{
		Recency:   cloneBins(p.RuleSet.Recency),
		Frequency: cloneBins(p.RuleSet.Frequency),
		Value:     cloneBins(p.RuleSet.Value),
	}
	c.Segments = append([]Segment(nil), p.Segments...)
	return &c
}

func cloneBins(bins []Bin) []Bin {
	if bins == nil {
		return nil
	}
	out := make([]Bin, len(bins))
	for i, b := range bins {
		out[i] = Bin{Score: b.Score}
		if b.LowerBound != nil {
			v := *b.LowerBound
			out[i].LowerBound = &v
		}
		if b.UpperBound != nil {
			v := *b.UpperBound
			out[i].UpperBound = &v
		}
	}
	return out
}

// Filial is a branch of the org hierarchy.
type Filial struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ============================================================
// Scoring inputs / outputs
// ============================================================

// Scores holds the per-dimension score of one customer.
type Scores struct {
	R int `json:"R"`
	F int `json:"F"`
	V int `json:"V"`
}

// Sum returns R + F + V.
func (s Scores) Sum() int {
	return s.R + s.F + s.V
}

// For returns the score of a dimension.
func (s Scores) For(d Dimension) int {
	switch d {
	case DimensionRecency:
		return s.R
	case DimensionFrequency:
		return s.F
	case DimensionValue:
		return s.V
	}
	return 0
}

// CustomerMetrics is the raw behaviour of one customer.
type CustomerMetrics struct {
	CustomerID            string  `json:"customerId"`
	DaysSinceLastPurchase float64 `json:"daysSinceLastPurchase"`
	PurchaseCount         float64 `json:"purchaseCount"`
	MonetaryValue         float64 `json:"monetaryValue"`
}

// Raw returns the metric that feeds a dimension.
func (c CustomerMetrics) Raw(d Dimension) float64 {
	switch d {
	case DimensionRecency:
		return c.DaysSinceLastPurchase
	case DimensionFrequency:
		return c.PurchaseCount
	case DimensionValue:
		return c.MonetaryValue
	}
	return 0
}

// CustomerClassification is the outcome for one customer.
type CustomerClassification struct {
	CustomerID string `json:"customerId"`
	Scores     Scores `json:"scores"`
	Sum        int    `json:"sum"`
	Tier       Tier   `json:"tier,omitempty"`
	Segment    string `json:"segment,omitempty"`
}

// ClassificationResult is returned by the classification preview.
type ClassificationResult struct {
	ParameterSetID int                      `json:"parameterSetId"`
	Strategy       CalculationStrategy      `json:"calculationStrategy"`
	Customers      []CustomerClassification `json:"customers"`
	Counts         map[string]int           `json:"counts"`
	Unclassified   int                      `json:"unclassified"`
}
