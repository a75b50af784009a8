package condition

import (
	"testing"
	"time"
)

type fakeSource struct {
	numeric     map[string]float64
	categorical map[string][]string
	events      map[string][]time.Time
}

func (f fakeSource) NumericField(name string) (float64, bool) {
	v, ok := f.numeric[name]
	return v, ok
}

func (f fakeSource) CategoricalField(name string) ([]string, bool) {
	v, ok := f.categorical[name]
	return v, ok
}

func (f fakeSource) EventTimes(fact, category string) []time.Time {
	return f.events[fact]
}

func TestCompareOperators(t *testing.T) {
	src := fakeSource{numeric: map[string]float64{"allergy_count": 3}}
	asOf := time.Now()

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gte true", Compare("allergy_count", OpGTE, 3), true},
		{"gte false", Compare("allergy_count", OpGTE, 4), false},
		{"lte true", Compare("allergy_count", OpLTE, 3), true},
		{"lte false", Compare("allergy_count", OpLTE, 2), false},
		{"eq true", Compare("allergy_count", OpEQ, 3), true},
		{"eq false", Compare("allergy_count", OpEQ, 2), false},
		{"range inside", Between("allergy_count", 2, 4), true},
		{"range boundary", Between("allergy_count", 3, 3), true},
		{"range outside", Between("allergy_count", 4, 6), false},
	}
	for _, tc := range cases {
		got, err := tc.cond.Evaluate(src, asOf)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestInMatchesAnyValue(t *testing.T) {
	src := fakeSource{categorical: map[string][]string{
		"diagnosis_category": {"CARDIAC", "RESPIRATORY"},
	}}

	ok, err := In("diagnosis_category", "RESPIRATORY").Evaluate(src, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected match on present category")
	}

	ok, err = In("diagnosis_category", "NEUROLOGICAL").Evaluate(src, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no match on absent category")
	}
}

func TestWindowCountsInclusiveBounds(t *testing.T) {
	asOf := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	src := fakeSource{events: map[string][]time.Time{
		"visit": {
			asOf,                     // on asOf, counted
			asOf.AddDate(0, 0, -90),  // exactly on cutoff, counted
			asOf.AddDate(0, 0, -91),  // before cutoff
			asOf.AddDate(0, 0, 1),    // in the future
			asOf.AddDate(0, 0, -10),  // inside
		},
	}}

	ok, err := WithinDays("visit", "", 90, 3).Evaluate(src, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected three visits inside the window")
	}

	ok, err = WithinDays("visit", "", 90, 4).Evaluate(src, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected only three visits inside the window")
	}
}

func TestBooleanComposition(t *testing.T) {
	src := fakeSource{numeric: map[string]float64{
		"allergy_count": 3,
		"visit_count":   1,
	}}
	asOf := time.Now()

	both := And(
		Compare("allergy_count", OpGTE, 3),
		Compare("visit_count", OpGTE, 5),
	)
	ok, err := both.Evaluate(src, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("and should fail when one child fails")
	}

	either := Or(
		Compare("allergy_count", OpGTE, 3),
		Compare("visit_count", OpGTE, 5),
	)
	ok, err = either.Evaluate(src, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("or should pass when one child passes")
	}

	negated := Not(Compare("visit_count", OpGTE, 5))
	ok, err = negated.Evaluate(src, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("not should invert a false child")
	}
}

func TestValidateRejectsMalformedTrees(t *testing.T) {
	cases := []struct {
		name string
		cond Condition
	}{
		{"unknown kind", Condition{Kind: "bogus"}},
		{"unknown numeric field", Compare("shoe_size", OpGTE, 1)},
		{"unknown operator", Condition{Kind: KindCompare, Field: "age", Operator: "!="}},
		{"inverted range", Between("age", 10, 5)},
		{"unknown categorical field", In("eye_color", "blue")},
		{"in without values", Condition{Kind: KindIn, Field: "blood_type"}},
		{"unknown fact", WithinDays("surgery", "", 30, 1)},
		{"zero window", WithinDays("visit", "", 0, 1)},
		{"zero min count", WithinDays("visit", "", 30, 0)},
		{"empty and", Condition{Kind: KindAnd}},
		{"not without child", Condition{Kind: KindNot}},
	}
	for _, tc := range cases {
		if err := tc.cond.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	valid := And(
		Compare("age", OpGTE, 18),
		Or(In("blood_type", "A+", "O-"), WithinDays("visit", "", 30, 2)),
	)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid tree rejected: %v", err)
	}
}

func TestValidateRejectsExcessiveDepth(t *testing.T) {
	cond := Compare("age", OpGTE, 18)
	for i := 0; i < maxDepth+1; i++ {
		cond = Not(cond)
	}
	if err := cond.Validate(); err == nil {
		t.Fatal("expected depth limit error")
	}
}

func TestParseValidatesDecodedTree(t *testing.T) {
	raw := []byte(`{"kind":"compare","field":"allergy_count","operator":">=","value":3}`)
	cond, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cond.Kind != KindCompare || cond.Field != "allergy_count" {
		t.Fatalf("unexpected condition: %+v", cond)
	}

	if _, err := Parse([]byte(`{"kind":"compare","field":"nope","operator":">=","value":1}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}
