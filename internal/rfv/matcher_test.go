package rfv_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/rfv"
)

var fixedNow = time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)

func TestParseRule(t *testing.T) {
	cases := []struct {
		in   string
		want rfv.Rule
	}{
		{">=4", rfv.Rule{Comparator: rfv.OpGreaterEqual, Threshold: 4}},
		{" <= 2 ", rfv.Rule{Comparator: rfv.OpLessEqual, Threshold: 2}},
		{">3", rfv.Rule{Comparator: rfv.OpGreater, Threshold: 3}},
		{"<5", rfv.Rule{Comparator: rfv.OpLess, Threshold: 5}},
		{"=1", rfv.Rule{Comparator: rfv.OpEqual, Threshold: 1}},
	}
	for _, tc := range cases {
		got, err := rfv.ParseRule(tc.in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.in, err)
		}
		if *got != tc.want {
			t.Errorf("%q: expected %+v, got %+v", tc.in, tc.want, *got)
		}
	}
}

func TestParseRule_Empty(t *testing.T) {
	r, err := rfv.ParseRule("   ")
	if err != nil || r != nil {
		t.Errorf("expected nil rule and no error, got %v %v", r, err)
	}
}

func TestParseRule_Malformed(t *testing.T) {
	for _, in := range []string{"4", "=>4", ">=x", ">=6", "<0", ">=4.5", "!=3"} {
		if _, err := rfv.ParseRule(in); err == nil {
			t.Errorf("%q: expected parse error", in)
		}
	}
}

func TestMatcher_FirstMatchByPriorityWins(t *testing.T) {
	m, err := rfv.CompileMatcher([]domain.Segment{
		{Name: "Leais", Rules: domain.SegmentRules{R: ">=4"}, Priority: 2},
		{Name: "Campeões", Rules: domain.SegmentRules{R: ">=4", F: ">=4"}, Priority: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seg, ok := m.Match(domain.Scores{R: 5, F: 5, V: 1})
	if !ok || seg.Name != "Campeões" {
		t.Errorf("expected Campeões, got %+v", seg)
	}

	seg, ok = m.Match(domain.Scores{R: 5, F: 3, V: 1})
	if !ok || seg.Name != "Leais" {
		t.Errorf("expected Leais, got %+v", seg)
	}

	if seg, ok := m.Match(domain.Scores{R: 1, F: 5, V: 5}); ok {
		t.Errorf("expected no segment, got %+v", seg)
	}
}

func TestMatcher_TiesKeepListOrder(t *testing.T) {
	m, err := rfv.CompileMatcher([]domain.Segment{
		{Name: "A", Rules: domain.SegmentRules{V: ">2"}, Priority: 1},
		{Name: "B", Rules: domain.SegmentRules{V: ">2"}, Priority: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seg, _ := m.Match(domain.Scores{R: 1, F: 1, V: 3})
	if seg == nil || seg.Name != "A" {
		t.Errorf("expected A, got %+v", seg)
	}
}

func TestMatcher_CatchAll(t *testing.T) {
	m, err := rfv.CompileMatcher([]domain.Segment{
		{Name: "VIP", Rules: domain.SegmentRules{V: "=5"}, Priority: 1},
		{Name: "Outros", Priority: 99},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Expressions(); got[0] != "V == 5" || got[1] != "true" {
		t.Errorf("unexpected expressions: %v", got)
	}
	seg, ok := m.Match(domain.Scores{R: 2, F: 2, V: 2})
	if !ok || seg.Name != "Outros" {
		t.Errorf("expected catch-all, got %+v", seg)
	}
}

func TestMatcher_ParseErrorIsValidation(t *testing.T) {
	_, err := rfv.CompileMatcher([]domain.Segment{
		{Name: "Quebrado", Rules: domain.SegmentRules{F: "=>4"}, Priority: 1},
	})
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if ve.Field != "segments[0].rules.F" {
		t.Errorf("unexpected field %q", ve.Field)
	}
}

func TestMatcher_AgreesWithRuleHolds(t *testing.T) {
	segments := rfv.DefaultSegments()
	m, err := rfv.CompileMatcher(segments)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for r := 1; r <= 5; r++ {
		for f := 1; f <= 5; f++ {
			for v := 1; v <= 5; v++ {
				scores := domain.Scores{R: r, F: f, V: v}
				want := ""
				for i, seg := range m.Segments() {
					rules, err := rfv.ParseSegmentRules(i, seg)
					if err != nil {
						t.Fatal(err)
					}
					all := true
					for d, rule := range rules {
						if !rule.Holds(scores.For(d)) {
							all = false
						}
					}
					if all {
						want = seg.Name
						break
					}
				}

				got := ""
				if seg, ok := m.Match(scores); ok {
					got = seg.Name
				}
				if got != want {
					t.Errorf("%+v: expected %q, got %q", scores, want, got)
				}
			}
		}
	}
}

func TestEngine_ManualBatch(t *testing.T) {
	set := rfv.NewDraft(fixedNow)
	set.Strategy = domain.StrategyManual
	set.AutomaticRanges = nil
	set.Segments = rfv.DefaultSegments()

	e, err := rfv.NewEngine(set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := e.EvaluateAll([]domain.CustomerMetrics{
		{CustomerID: "champ", DaysSinceLastPurchase: 5, PurchaseCount: 20, MonetaryValue: 10000},
		{CustomerID: "lost", DaysSinceLastPurchase: 365, PurchaseCount: 1, MonetaryValue: 50},
		{CustomerID: "mid", DaysSinceLastPurchase: 75, PurchaseCount: 3, MonetaryValue: 1200},
	})

	if res.Customers[0].Segment != "Campeões" {
		t.Errorf("expected Campeões, got %q", res.Customers[0].Segment)
	}
	if res.Customers[1].Segment != "Perdidos" {
		t.Errorf("expected Perdidos, got %q", res.Customers[1].Segment)
	}
	if res.Customers[2].Segment != "" || res.Unclassified != 1 {
		t.Errorf("expected mid to stay unsegmented, got %+v (unclassified=%d)", res.Customers[2], res.Unclassified)
	}
}
