package grading

import (
	"encoding/json"
	"testing"
)

func ptr(f float64) *float64 { return &f }

func singleQ(t QuestionType) Question {
	return Question{ID: "q1", Type: t, Points: 2, Options: []Option{
		{ID: "A", Label: "first"},
		{ID: "B", Label: "second", IsCorrect: true},
		{ID: "C", Label: "third"},
	}}
}

func assertResult(t *testing.T, name string, got Result, wantCorrect *bool, wantPoints float64) {
	t.Helper()
	switch {
	case wantCorrect == nil && got.IsCorrect != nil:
		t.Fatalf("%s: is_correct = %v, want nil", name, *got.IsCorrect)
	case wantCorrect != nil && got.IsCorrect == nil:
		t.Fatalf("%s: is_correct = nil, want %v", name, *wantCorrect)
	case wantCorrect != nil && *got.IsCorrect != *wantCorrect:
		t.Fatalf("%s: is_correct = %v, want %v", name, *got.IsCorrect, *wantCorrect)
	}
	if got.AwardedPoints != wantPoints {
		t.Fatalf("%s: points = %v, want %v", name, got.AwardedPoints, wantPoints)
	}
}

var (
	yes = func() *bool { b := true; return &b }()
	no  = func() *bool { b := false; return &b }()
)

func TestSingleChoice(t *testing.T) {
	q := singleQ(TypeMCQSingle)
	neg := Policy{NegativeMarking: true, PenaltyFraction: 0.25}

	cases := []struct {
		name string
		resp Response
		pol  Policy
		ok   *bool
		pts  float64
	}{
		{"correct", SelectedOne{ID: "B"}, Policy{}, yes, 2},
		{"wrong", SelectedOne{ID: "A"}, Policy{}, no, 0},
		{"wrong negative", SelectedOne{ID: "A"}, neg, no, -0.5},
		{"correct negative", SelectedOne{ID: "B"}, neg, yes, 2},
		{"unanswered negative", Empty{}, neg, no, 0},
		{"unknown option", SelectedOne{ID: "Z"}, Policy{}, no, 0},
		{"wrong variant", SelectedMany{IDs: []string{"B"}}, Policy{}, no, 0},
		{"nil response", nil, neg, no, 0},
	}
	for _, c := range cases {
		assertResult(t, c.name, Grade(q, c.resp, c.pol), c.ok, c.pts)
	}

	tf := Question{Type: TypeTrueFalse, Points: 1, Options: []Option{{ID: "t", Label: "True", IsCorrect: true}, {ID: "f", Label: "False"}}}
	assertResult(t, "true_false", Grade(tf, SelectedOne{ID: "t"}, Policy{}), yes, 1)
	assertResult(t, "true_false wrong", Grade(tf, SelectedOne{ID: "f"}, neg), no, -0.25)
}

func TestMultiChoiceExactMatch(t *testing.T) {
	q := Question{Type: TypeMCQMulti, Points: 3, Options: []Option{
		{ID: "A", IsCorrect: true}, {ID: "B"}, {ID: "C", IsCorrect: true}, {ID: "D"},
	}}
	neg := Policy{NegativeMarking: true, PenaltyFraction: 0.5}

	assertResult(t, "exact", Grade(q, SelectedMany{IDs: []string{"C", "A"}}, neg), yes, 3)
	assertResult(t, "duplicates", Grade(q, SelectedMany{IDs: []string{"A", "C", "A"}}, Policy{}), yes, 3)
	assertResult(t, "subset", Grade(q, SelectedMany{IDs: []string{"A"}}, neg), no, 0)
	assertResult(t, "superset", Grade(q, SelectedMany{IDs: []string{"A", "B", "C"}}, neg), no, 0)
	assertResult(t, "empty", Grade(q, Empty{}, Policy{}), no, 0)
}

func TestNumberTolerance(t *testing.T) {
	q := Question{Type: TypeNumber, Points: 3, Tolerance: ptr(0.5), Options: []Option{{ID: "k", Label: "10", IsCorrect: true}}}
	for _, v := range []float64{9.5, 10, 10.5} {
		assertResult(t, "in range", Grade(q, NumberValue{Value: v}, Policy{}), yes, 3)
	}
	for _, v := range []float64{9.49, 10.51} {
		assertResult(t, "out of range", Grade(q, NumberValue{Value: v}, Policy{}), no, 0)
	}

	exact := Question{Type: TypeNumber, Points: 1, Options: []Option{{ID: "k", Label: " 42 ", IsCorrect: true}}}
	assertResult(t, "default tolerance", Grade(exact, NumberValue{Value: 42}, Policy{}), yes, 1)
	assertResult(t, "default tolerance miss", Grade(exact, NumberValue{Value: 42.1}, Policy{}), no, 0)

	bad := Question{Type: TypeNumber, Points: 1, Options: []Option{{ID: "k", Label: "forty-two", IsCorrect: true}}}
	assertResult(t, "unparsable key", Grade(bad, NumberValue{Value: 42}, Policy{}), no, 0)
	if CheckKey(bad) == nil {
		t.Fatal("CheckKey accepted a non-numeric key")
	}
	if err := CheckKey(exact); err != nil {
		t.Fatalf("CheckKey(42): %v", err)
	}
	if err := CheckKey(Question{Type: TypeNumber}); err == nil {
		t.Fatal("CheckKey accepted a number question with no key")
	}
}

func TestTextNeedsManual(t *testing.T) {
	q := Question{Type: TypeShortText, Points: 5, Options: []Option{{ID: "ref", Label: "Photosynthesis", IsCorrect: true}}}

	r := Grade(q, TextValue{Text: "  photosynthesis! "}, Policy{})
	assertResult(t, "text", r, nil, 0)
	if !r.NeedsManual {
		t.Fatalf("text answers need manual review")
	}
	if !hasFeedback(r, "matches reference answer") {
		t.Fatalf("feedback = %v", r.Feedback)
	}

	r = Grade(q, TextValue{Text: "photosynthesys"}, Policy{})
	if !hasFeedback(r, "close to reference answer") {
		t.Fatalf("feedback = %v", r.Feedback)
	}

	long := Question{Type: TypeLongText, Points: 10}
	r = Grade(long, TextValue{Text: "an essay"}, Policy{NegativeMarking: true, PenaltyFraction: 1})
	assertResult(t, "long text", r, nil, 0)
}

func TestUnknownTypeIsManual(t *testing.T) {
	r := Grade(Question{Type: "matrix", Points: 2}, Empty{}, Policy{})
	if !r.NeedsManual || r.IsCorrect != nil || r.AwardedPoints != 0 {
		t.Fatalf("got %+v", r)
	}
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		typ  QuestionType
		raw  string
		want Response
	}{
		{TypeMCQSingle, `{"selected":"B"}`, SelectedOne{ID: "B"}},
		{TypeMCQSingle, `{"selected":["B"]}`, SelectedOne{ID: "B"}},
		{TypeMCQSingle, `{"selected":["A","B"]}`, Empty{}},
		{TypeTrueFalse, `{"text":"true"}`, Empty{}},
		{TypeNumber, `{"value":41}`, NumberValue{Value: 41}},
		{TypeNumber, `{"value":"41.5"}`, NumberValue{Value: 41.5}},
		{TypeNumber, `{"value":"abc"}`, Empty{}},
		{TypeShortText, `{"text":"  "}`, Empty{}},
		{TypeLongText, `{"text":"hello"}`, TextValue{Text: "hello"}},
		{TypeNumber, `not json`, Empty{}},
		{TypeNumber, ``, Empty{}},
	}
	for _, c := range cases {
		got := ParseResponse(c.typ, []byte(c.raw))
		gb, _ := json.Marshal(got)
		wb, _ := json.Marshal(c.want)
		if string(gb) != string(wb) || typeName(got) != typeName(c.want) {
			t.Fatalf("%s %s: got %#v want %#v", c.typ, c.raw, got, c.want)
		}
	}

	multi := ParseResponse(TypeMCQMulti, []byte(`{"selected":["A","C"]}`))
	if m, ok := multi.(SelectedMany); !ok || len(m.IDs) != 2 {
		t.Fatalf("multi: got %#v", multi)
	}
}

func TestValidateResponse(t *testing.T) {
	if err := ValidateResponse(TypeMCQMulti, []byte(`{"selected":"A"}`)); err == nil {
		t.Fatalf("expected shape error for scalar multi selection")
	}
	if err := ValidateResponse(TypeNumber, []byte(`{"text":"1"}`)); err == nil {
		t.Fatalf("expected shape error for number question")
	}
	if err := ValidateResponse(TypeShortText, []byte(`{}`)); err != nil {
		t.Fatalf("empty object clears an answer: %v", err)
	}
	if err := ValidateResponse(TypeMCQSingle, []byte(`{"selected":"A"}`)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := ValidateResponse(TypeNumber, []byte(`{"value":41.5}`)); err != nil {
		t.Fatalf("plain number: %v", err)
	}
}

func TestValidateResponseRejectsLooseShapes(t *testing.T) {
	cases := []struct {
		typ QuestionType
		raw string
	}{
		{TypeNumber, `{"value":"41 apples"}`},
		{TypeNumber, `{"value":"41"}`},
		{TypeNumber, `{"selected":"x","value":41}`},
		{TypeMCQSingle, `{"selected":"A","text":"why not"}`},
		{TypeShortText, `{"text":"hi","value":1}`},
	}
	for _, c := range cases {
		if err := ValidateResponse(c.typ, []byte(c.raw)); err == nil {
			t.Errorf("%s %s: accepted", c.typ, c.raw)
		}
	}
	// stored rows are still read leniently
	if got := ParseResponse(TypeNumber, []byte(`{"value":"41 apples"}`)); got != (NumberValue{Value: 41}) {
		t.Fatalf("lenient parse: %#v", got)
	}
}

func hasFeedback(r Result, s string) bool {
	for _, f := range r.Feedback {
		if f == s {
			return true
		}
	}
	return false
}

func typeName(r Response) string {
	switch r.(type) {
	case Empty:
		return "empty"
	case SelectedOne:
		return "one"
	case SelectedMany:
		return "many"
	case NumberValue:
		return "number"
	case TextValue:
		return "text"
	}
	return "?"
}
