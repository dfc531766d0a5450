package rfvapi

import (
	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/rfv"
)

// ============================================================
// Wire format of the external RFV API
// ============================================================

// RecencyBin is a Recency bin on the wire: score 5 = up to max_dias days.
type RecencyBin struct {
	Score   int      `json:"score"`
	MaxDias *float64 `json:"max_dias,omitempty"`
}

// FrequencyBin is a Frequency bin on the wire: at least min_compras purchases.
type FrequencyBin struct {
	Score      int      `json:"score"`
	MinCompras *float64 `json:"min_compras,omitempty"`
}

// ValueBin is a Value bin on the wire: at least min_valor spent.
type ValueBin struct {
	Score    int      `json:"score"`
	MinValor *float64 `json:"min_valor,omitempty"`
}

// ClassRanges are the automatic tier boundaries on the wire.
type ClassRanges struct {
	Bronze domain.TierRange `json:"bronze"`
	Prata  domain.TierRange `json:"prata"`
	Ouro   domain.TierRange `json:"ouro"`
}

// ParameterFromAPI is one row of GET /api/rfv/parameters.
type ParameterFromAPI struct {
	ID                  int            `json:"id"`
	Name                string         `json:"name"`
	FilialID            *int           `json:"filialId"`
	RuleRecency         []RecencyBin   `json:"ruleRecency"`
	RuleFrequency       []FrequencyBin `json:"ruleFrequency"`
	RuleValue           []ValueBin     `json:"ruleValue"`
	CalculationStrategy string         `json:"calculation_strategy"`
	ClassRanges         *ClassRanges   `json:"class_ranges"`
	EffectiveFrom       string         `json:"effectiveFrom"`
	EffectiveTo         *string        `json:"effectiveTo"`
}

// ParameterBody is the body of POST / PUT /api/rfv/parameters.
type ParameterBody struct {
	Name                string         `json:"name"`
	FilialID            *int           `json:"filialId"`
	RuleRecency         []RecencyBin   `json:"ruleRecency"`
	RuleFrequency       []FrequencyBin `json:"ruleFrequency"`
	RuleValue           []ValueBin     `json:"ruleValue"`
	CalculationStrategy string         `json:"calculation_strategy"`
	ClassRanges         *ClassRanges   `json:"class_ranges"`
	EffectiveFrom       string         `json:"effectiveFrom"`
	EffectiveTo         *string        `json:"effectiveTo"`
}

// SegmentFromAPI is one row of GET /api/rfv/segments.
type SegmentFromAPI struct {
	ID             int                 `json:"id"`
	SegmentName    string              `json:"segment_name"`
	Rules          domain.SegmentRules `json:"rules"`
	Priority       int                 `json:"priority"`
	ParameterSetID int                 `json:"parameterSetId"`
}

// SegmentBody is the body of POST /api/rfv/segments.
type SegmentBody struct {
	SegmentName    string              `json:"segment_name"`
	Rules          domain.SegmentRules `json:"rules"`
	Priority       int                 `json:"priority"`
	ParameterSetID int                 `json:"parameterSetId"`
}

// FilialFromAPI is one row of GET /api/filiais.
type FilialFromAPI struct {
	ID   int    `json:"id"`
	Nome string `json:"nome"`
}

// ToBody converts a domain configuration into the write payload.
func ToBody(p *domain.ParameterSet) ParameterBody {
	body := ParameterBody{
		Name:                p.Name,
		FilialID:            p.FilialID,
		RuleRecency:         recencyToWire(p.RuleSet.Recency),
		RuleFrequency:       frequencyToWire(p.RuleSet.Frequency),
		RuleValue:           valueToWire(p.RuleSet.Value),
		CalculationStrategy: string(p.Strategy),
		EffectiveFrom:       p.EffectiveFrom.String(),
	}
	if p.Strategy == domain.StrategyAutomatic && p.AutomaticRanges != nil {
		body.ClassRanges = &ClassRanges{
			Bronze: p.AutomaticRanges.Bronze,
			Prata:  p.AutomaticRanges.Prata,
			Ouro:   p.AutomaticRanges.Ouro,
		}
	}
	if p.EffectiveTo != nil {
		to := p.EffectiveTo.String()
		body.EffectiveTo = &to
	}
	return body
}

// ToDomain converts an API row into a domain configuration (segments not attached).
func (w ParameterFromAPI) ToDomain() (*domain.ParameterSet, error) {
	from, err := domain.ParseDate(w.EffectiveFrom)
	if err != nil {
		return nil, err
	}
	p := &domain.ParameterSet{
		ID:            w.ID,
		Name:          w.Name,
		FilialID:      w.FilialID,
		Strategy:      domain.CalculationStrategy(w.CalculationStrategy),
		Segments:      []domain.Segment{},
		EffectiveFrom: from,
		RuleSet: domain.RuleSet{
			Recency:   recencyFromWire(w.RuleRecency),
			Frequency: frequencyFromWire(w.RuleFrequency),
			Value:     valueFromWire(w.RuleValue),
		},
	}
	if w.ClassRanges != nil {
		p.AutomaticRanges = &domain.AutomaticRanges{
			Bronze: w.ClassRanges.Bronze,
			Prata:  w.ClassRanges.Prata,
			Ouro:   w.ClassRanges.Ouro,
		}
	}
	if w.EffectiveTo != nil && *w.EffectiveTo != "" {
		to, err := domain.ParseDate(*w.EffectiveTo)
		if err != nil {
			return nil, err
		}
		p.EffectiveTo = &to
	}
	return p, nil
}

// ToDomain converts an API segment row.
func (w SegmentFromAPI) ToDomain() domain.Segment {
	return domain.Segment{
		ID:       w.ID,
		Name:     w.SegmentName,
		Rules:    w.Rules,
		Priority: w.Priority,
	}
}

func recencyToWire(bins []domain.Bin) []RecencyBin {
	th := rfv.Thresholds(domain.DimensionRecency, bins)
	out := make([]RecencyBin, 0, len(bins))
	for _, b := range bins {
		out = append(out, RecencyBin{Score: b.Score, MaxDias: lookup(th, b.Score)})
	}
	return out
}

func frequencyToWire(bins []domain.Bin) []FrequencyBin {
	th := rfv.Thresholds(domain.DimensionFrequency, bins)
	out := make([]FrequencyBin, 0, len(bins))
	for _, b := range bins {
		out = append(out, FrequencyBin{Score: b.Score, MinCompras: lookup(th, b.Score)})
	}
	return out
}

func valueToWire(bins []domain.Bin) []ValueBin {
	th := rfv.Thresholds(domain.DimensionValue, bins)
	out := make([]ValueBin, 0, len(bins))
	for _, b := range bins {
		out = append(out, ValueBin{Score: b.Score, MinValor: lookup(th, b.Score)})
	}
	return out
}

func recencyFromWire(bins []RecencyBin) []domain.Bin {
	th := make(map[int]float64, len(bins))
	for _, b := range bins {
		if b.MaxDias != nil {
			th[b.Score] = *b.MaxDias
		}
	}
	return rfv.BinsFromThresholds(domain.DimensionRecency, th)
}

func frequencyFromWire(bins []FrequencyBin) []domain.Bin {
	th := make(map[int]float64, len(bins))
	for _, b := range bins {
		if b.MinCompras != nil {
			th[b.Score] = *b.MinCompras
		}
	}
	return rfv.BinsFromThresholds(domain.DimensionFrequency, th)
}

func valueFromWire(bins []ValueBin) []domain.Bin {
	th := make(map[int]float64, len(bins))
	for _, b := range bins {
		if b.MinValor != nil {
			th[b.Score] = *b.MinValor
		}
	}
	return rfv.BinsFromThresholds(domain.DimensionValue, th)
}

func lookup(th map[int]float64, score int) *float64 {
	v, ok := th[score]
	if !ok {
		return nil
	}
	return &v
}
