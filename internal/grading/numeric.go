package grading

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// numberStrategy compares against the label of the correct option with an
// absolute tolerance (default 0).
type numberStrategy struct{}

// epsilon absorbs float noise at the tolerance boundary (10.5 vs 10±0.5).
const epsilon = 1e-9

func (numberStrategy) Grade(q Question, r Response, _ Policy) Result {
	v, ok := r.(NumberValue)
	if !ok {
		return incorrect(0)
	}
	key, ok := numberKey(q)
	if !ok {
		return Result{IsCorrect: incorrect(0).IsCorrect, Feedback: []string{"answer key is not a number"}}
	}
	tol := 0.0
	if q.Tolerance != nil && *q.Tolerance > 0 {
		tol = *q.Tolerance
	}
	if math.Abs(v.Value-key) <= tol+epsilon {
		return correct(q.Points)
	}
	return incorrect(0)
}

// CheckKey reports an answer key the grader cannot score against. Number
// questions need exactly one correct option whose label parses as a number.
func CheckKey(q Question) error {
	if q.Type != TypeNumber {
		return nil
	}
	if _, ok := numberKey(q); !ok {
		return fmt.Errorf("question %s: answer key is not a number", q.ID)
	}
	return nil
}

func numberKey(q Question) (float64, bool) {
	for _, o := range q.Options {
		if o.IsCorrect {
			return parseFloatLoose(o.Label)
		}
	}
	return 0, false
}

func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, finite(v)
	}
	if sp := strings.Fields(s); len(sp) > 0 {
		if v, err := strconv.ParseFloat(sp[0], 64); err == nil {
			return v, finite(v)
		}
	}
	return 0, false
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
