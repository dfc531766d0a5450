package rfv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
)

// Comparator is the operator of a segment rule.
type Comparator string

const (
	OpGreater      Comparator = ">"
	OpGreaterEqual Comparator = ">="
	OpLess         Comparator = "<"
	OpLessEqual    Comparator = "<="
	OpEqual        Comparator = "="
)

// two-character operators first so ">=" is not read as ">".
var comparators = []Comparator{OpGreaterEqual, OpLessEqual, OpGreater, OpLess, OpEqual}

// Rule is a parsed per-dimension clause such as ">=4".
type Rule struct {
	Comparator Comparator
	Threshold  int
}

// ParseRule parses "<op><score>" with op in >, >=, <, <=, = and score in 1..5.
// Whitespace around and between the parts is ignored. An empty expression
// returns nil: the dimension is not constrained.
func ParseRule(expr string) (*Rule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, nil
	}

	var op Comparator
	for _, c := range comparators {
		if strings.HasPrefix(s, string(c)) {
			op = c
			break
		}
	}
	if op == "" {
		return nil, fmt.Errorf("expressão %q deve começar com >, >=, <, <= ou =", expr)
	}

	rest := strings.TrimSpace(strings.TrimPrefix(s, string(op)))
	threshold, err := strconv.Atoi(rest)
	if err != nil {
		return nil, fmt.Errorf("expressão %q: limite %q não é um inteiro", expr, rest)
	}
	if threshold < domain.MinScore || threshold > domain.MaxScore {
		return nil, fmt.Errorf("expressão %q: limite deve estar entre %d e %d", expr, domain.MinScore, domain.MaxScore)
	}

	return &Rule{Comparator: op, Threshold: threshold}, nil
}

// Holds reports whether a score satisfies the rule.
func (r Rule) Holds(score int) bool {
	switch r.Comparator {
	case OpGreater:
		return score > r.Threshold
	case OpGreaterEqual:
		return score >= r.Threshold
	case OpLess:
		return score < r.Threshold
	case OpLessEqual:
		return score <= r.Threshold
	case OpEqual:
		return score == r.Threshold
	}
	return false
}

// String returns the canonical form, e.g. ">=4".
func (r Rule) String() string {
	return string(r.Comparator) + strconv.Itoa(r.Threshold)
}

// celExpr renders the clause against a score variable.
func (r Rule) celExpr(variable string) string {
	op := string(r.Comparator)
	if r.Comparator == OpEqual {
		op = "=="
	}
	return fmt.Sprintf("%s %s %d", variable, op, r.Threshold)
}
