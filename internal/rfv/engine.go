package rfv

import (
	"fmt"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
)

// Engine classifies customers with one persisted configuration.
type Engine struct {
	set     *domain.ParameterSet
	matcher *Matcher
}

// NewEngine prepares a configuration for classification. Manual
// configurations have their segments compiled once here.
func NewEngine(set *domain.ParameterSet) (*Engine, error) {
	e := &Engine{set: set}
	switch set.Strategy {
	case domain.StrategyAutomatic:
		if set.AutomaticRanges == nil {
			return nil, &domain.ErrValidation{Field: "automaticRanges", Message: "ausente na configuração"}
		}
	case domain.StrategyManual:
		m, err := CompileMatcher(set.Segments)
		if err != nil {
			return nil, err
		}
		e.matcher = m
	default:
		return nil, &domain.ErrValidation{
			Field:   "calculationStrategy",
			Message: fmt.Sprintf("estratégia desconhecida %q", set.Strategy),
		}
	}
	return e, nil
}

// Evaluate scores one customer and assigns its tier or segment.
func (e *Engine) Evaluate(m domain.CustomerMetrics) domain.CustomerClassification {
	scores := ScoreCustomer(&e.set.RuleSet, m)
	out := domain.CustomerClassification{
		CustomerID: m.CustomerID,
		Scores:     scores,
		Sum:        scores.Sum(),
	}
	if e.matcher != nil {
		if seg, ok := e.matcher.Match(scores); ok {
			out.Segment = seg.Name
		}
		return out
	}
	out.Tier = Classify(out.Sum, *e.set.AutomaticRanges)
	return out
}

// EvaluateAll classifies a batch and counts customers per tier or segment.
func (e *Engine) EvaluateAll(customers []domain.CustomerMetrics) *domain.ClassificationResult {
	res := &domain.ClassificationResult{
		ParameterSetID: e.set.ID,
		Strategy:       e.set.Strategy,
		Customers:      make([]domain.CustomerClassification, 0, len(customers)),
		Counts:         make(map[string]int),
	}
	for _, c := range customers {
		cc := e.Evaluate(c)
		res.Customers = append(res.Customers, cc)

		bucket := cc.Segment
		if e.matcher == nil {
			bucket = string(cc.Tier)
		}
		if bucket == "" {
			res.Unclassified++
			continue
		}
		res.Counts[bucket]++
	}
	return res
}
