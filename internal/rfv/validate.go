package rfv

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
)

// MaxNameLength bounds configuration and segment names.
const MaxNameLength = 120

// Validate runs the full pre-save pass over a draft. Every issue found is a
// *domain.ErrValidation; they are returned joined so callers can report all of them.
func Validate(p *domain.ParameterSet) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &domain.ErrValidation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		add("name", "obrigatório")
	case len([]rune(name)) > MaxNameLength:
		add("name", "máximo de %d caracteres", MaxNameLength)
	}

	if p.FilialID != nil && *p.FilialID <= 0 {
		add("filialId", "identificador de filial inválido: %d", *p.FilialID)
	}

	if p.EffectiveFrom.IsZero() {
		add("effectiveFrom", "obrigatório")
	} else if p.EffectiveTo != nil && !p.EffectiveFrom.Before(*p.EffectiveTo) {
		add("effectiveTo", "deve ser posterior a %s", p.EffectiveFrom)
	}

	for _, d := range domain.Dimensions {
		errs = append(errs, ValidateBins(d, p.RuleSet.Bins(d))...)
	}

	switch p.Strategy {
	case domain.StrategyAutomatic:
		if p.AutomaticRanges == nil {
			add("automaticRanges", "obrigatório para a estratégia automática")
		} else {
			errs = append(errs, ValidateRanges(*p.AutomaticRanges)...)
		}
	case domain.StrategyManual:
		errs = append(errs, ValidateSegments(p.Segments)...)
	default:
		add("calculationStrategy", "deve ser %q ou %q", domain.StrategyAutomatic, domain.StrategyManual)
	}

	return errors.Join(errs...)
}

// ValidateBins checks that a dimension has one bin per score and that the bins
// tile the number line: open at both extremes, no overlap, no gap larger than
// the dimension's granularity.
func ValidateBins(d domain.Dimension, bins []domain.Bin) []error {
	var errs []error
	field := "ruleSet." + string(d)
	add := func(f, format string, args ...any) {
		errs = append(errs, &domain.ErrValidation{Field: f, Message: fmt.Sprintf(format, args...)})
	}

	if len(bins) != domain.BinsPerDimension {
		add(field, "esperadas %d faixas, recebidas %d", domain.BinsPerDimension, len(bins))
		return errs
	}

	seen := make(map[int]bool, len(bins))
	for _, b := range bins {
		if b.Score < domain.MinScore || b.Score > domain.MaxScore {
			add(field, "nota %d fora do intervalo %d-%d", b.Score, domain.MinScore, domain.MaxScore)
			continue
		}
		if seen[b.Score] {
			add(field, "nota %d repetida", b.Score)
		}
		seen[b.Score] = true
	}
	if len(errs) > 0 {
		return errs
	}

	step := Step(d)
	ordered := orderByValue(d, bins)
	last := len(ordered) - 1
	for i, b := range ordered {
		bf := fmt.Sprintf("%s[nota=%d]", field, b.Score)

		if i == 0 && b.LowerBound != nil {
			add(bf, "a primeira faixa não deve ter limite inferior")
		}
		if i == last && b.UpperBound != nil {
			add(bf, "a última faixa não deve ter limite superior")
		}
		if i > 0 && b.LowerBound == nil {
			add(bf, "limite inferior obrigatório")
		}
		if i < last && b.UpperBound == nil {
			add(bf, "limite superior obrigatório")
		}
		for _, bound := range []*float64{b.LowerBound, b.UpperBound} {
			if bound != nil && !aligned(*bound, step) {
				add(bf, "limite %v não é múltiplo de %v", *bound, step)
			}
		}
		if b.LowerBound != nil && b.UpperBound != nil && *b.LowerBound > *b.UpperBound+epsilon(d) {
			add(bf, "limite inferior %v maior que o superior %v", *b.LowerBound, *b.UpperBound)
		}

		if i == 0 {
			continue
		}
		prev := ordered[i-1]
		if prev.UpperBound == nil || b.LowerBound == nil {
			continue
		}
		gap := *b.LowerBound - *prev.UpperBound
		switch {
		case gap < step-epsilon(d):
			add(bf, "sobrepõe a faixa da nota %d", prev.Score)
		case gap > step+epsilon(d):
			add(bf, "lacuna entre %v e %v em relação à nota %d", *prev.UpperBound, *b.LowerBound, prev.Score)
		}
	}
	return errs
}

func aligned(v, step float64) bool {
	q := v / step
	return math.Abs(q-math.Round(q)) < 1e-6
}

// ValidateRanges checks that bronze, prata and ouro are ordered, contiguous
// and cover exactly the summed-score range 3..15.
func ValidateRanges(r domain.AutomaticRanges) []error {
	var errs []error
	add := func(f, format string, args ...any) {
		errs = append(errs, &domain.ErrValidation{Field: f, Message: fmt.Sprintf(format, args...)})
	}

	ts := tiers(r)
	for i, t := range ts {
		f := "automaticRanges." + string(t.tier)
		if t.rng.Min > t.rng.Max {
			add(f, "mínimo %d maior que o máximo %d", t.rng.Min, t.rng.Max)
		}
		if i == 0 && t.rng.Min != domain.MinScoreSum {
			add(f, "deve começar em %d", domain.MinScoreSum)
		}
		if i == len(ts)-1 && t.rng.Max != domain.MaxScoreSum {
			add(f, "deve terminar em %d", domain.MaxScoreSum)
		}
		if i == 0 {
			continue
		}
		prev := ts[i-1]
		switch want := prev.rng.Max + 1; {
		case t.rng.Min < want:
			add(f, "sobrepõe a faixa %s", prev.tier)
		case t.rng.Min > want:
			add(f, "lacuna entre %s (%d) e %s (%d)", prev.tier, prev.rng.Max, t.tier, t.rng.Min)
		}
	}
	return errs
}

// ValidateSegments checks the manual segment list: at least one segment,
// unique non-empty names and parseable rules.
func ValidateSegments(segments []domain.Segment) []error {
	var errs []error
	if len(segments) == 0 {
		return []error{&domain.ErrValidation{Field: "segments", Message: "ao menos um segmento é obrigatório na estratégia manual"}}
	}

	names := make(map[string]int, len(segments))
	for i, seg := range segments {
		f := fmt.Sprintf("segments[%d]", i)
		name := strings.TrimSpace(seg.Name)
		if name == "" {
			errs = append(errs, &domain.ErrValidation{Field: f + ".name", Message: "obrigatório"})
		} else {
			key := strings.ToLower(name)
			if first, dup := names[key]; dup {
				errs = append(errs, &domain.ErrValidation{
					Field:   f + ".name",
					Message: fmt.Sprintf("nome %q repetido (segmento %d)", name, first),
				})
			} else {
				names[key] = i
			}
		}
		if _, err := ParseSegmentRules(i, seg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
