package rfv

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"

	"github.com/google/cel-go/cel"
)

// scoreEnv declares the R, F and V score variables segment programs read.
var scoreEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("R", cel.IntType),
		cel.Variable("F", cel.IntType),
		cel.Variable("V", cel.IntType),
	)
})

// Matcher evaluates manual segments in priority order.
type Matcher struct {
	segments []compiledSegment
}

type compiledSegment struct {
	segment    domain.Segment
	expression string
	program    cel.Program
}

// ParseSegmentRules parses the clauses of one segment.
// Errors are *domain.ErrValidation naming the segment and dimension.
func ParseSegmentRules(idx int, seg domain.Segment) (map[domain.Dimension]*Rule, error) {
	rules := make(map[domain.Dimension]*Rule, len(domain.Dimensions))
	var errs []error
	for _, d := range domain.Dimensions {
		r, err := ParseRule(seg.Rules.For(d))
		if err != nil {
			errs = append(errs, &domain.ErrValidation{
				Field:   fmt.Sprintf("segments[%d].rules.%s", idx, d.Short()),
				Message: fmt.Sprintf("segmento %q: %v", seg.Name, err),
			})
			continue
		}
		if r != nil {
			rules[d] = r
		}
	}
	return rules, errors.Join(errs...)
}

// CompileMatcher parses every segment once, orders them by ascending priority
// (ties keep list order) and compiles each into a CEL program.
func CompileMatcher(segments []domain.Segment) (*Matcher, error) {
	env, err := scoreEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	compiled := make([]compiledSegment, 0, len(segments))
	var errs []error
	for i, seg := range segments {
		rules, err := ParseSegmentRules(i, seg)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		expr := segmentExpression(rules)
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile segment %q: %w", seg.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("segment %q: expression must return bool, got %s", seg.Name, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for segment %q: %w", seg.Name, err)
		}

		compiled = append(compiled, compiledSegment{
			segment:    seg,
			expression: expr,
			program:    program,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].segment.Priority < compiled[j].segment.Priority
	})

	return &Matcher{segments: compiled}, nil
}

// segmentExpression joins the clauses in R, F, V order. No clause matches everyone.
func segmentExpression(rules map[domain.Dimension]*Rule) string {
	clauses := make([]string, 0, len(rules))
	for _, d := range domain.Dimensions {
		if r, ok := rules[d]; ok {
			clauses = append(clauses, r.celExpr(d.Short()))
		}
	}
	if len(clauses) == 0 {
		return "true"
	}
	return strings.Join(clauses, " && ")
}

// Match returns the first segment, in priority order, whose clauses all hold.
func (m *Matcher) Match(scores domain.Scores) (*domain.Segment, bool) {
	activation := map[string]any{
		"R": int64(scores.R),
		"F": int64(scores.F),
		"V": int64(scores.V),
	}
	for i := range m.segments {
		cs := &m.segments[i]
		out, _, err := cs.program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			seg := cs.segment
			return &seg, true
		}
	}
	return nil, false
}

// Segments returns the segments in evaluation order.
func (m *Matcher) Segments() []domain.Segment {
	out := make([]domain.Segment, len(m.segments))
	for i, cs := range m.segments {
		out[i] = cs.segment
	}
	return out
}

// Expressions returns the compiled expression of each segment in evaluation order.
func (m *Matcher) Expressions() []string {
	out := make([]string, len(m.segments))
	for i, cs := range m.segments {
		out[i] = cs.expression
	}
	return out
}
