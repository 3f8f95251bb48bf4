package quiz

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-quiz/internal/grading"
)

// Normalize fills defaults and assigns missing ids, then checks the
// authoring invariants. Errors wrap ErrInvalid.
func (t *Test) Normalize() error {
	t.Title = strings.TrimSpace(t.Title)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TestDraft
	}
	if t.GradingMode == "" {
		t.GradingMode = GradingAuto
	}
	switch {
	case t.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalid)
	case t.PassScore < 0 || t.PassScore > 100:
		return fmt.Errorf("%w: pass_score must be between 0 and 100", ErrInvalid)
	case t.MaxAttempts < 0:
		return fmt.Errorf("%w: max_attempts must be >= 0", ErrInvalid)
	}
	switch t.Status {
	case TestDraft, TestPublished, TestArchived:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, t.Status)
	}
	switch t.GradingMode {
	case GradingAuto, GradingManual:
	default:
		return fmt.Errorf("%w: unknown grading_mode %q", ErrInvalid, t.GradingMode)
	}

	seenQ := map[string]bool{}
	seenO := map[string]bool{}
	for i := range t.Questions {
		q := &t.Questions[i]
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if seenQ[q.ID] {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalid, q.ID)
		}
		seenQ[q.ID] = true
		q.TestID = t.ID
		if q.Points == 0 {
			q.Points = 1
		}
		if q.OrderIndex == 0 {
			q.OrderIndex = i
		}
		for j := range q.Options {
			o := &q.Options[j]
			if o.ID == "" {
				o.ID = uuid.NewString()
			}
			if seenO[o.ID] {
				return fmt.Errorf("%w: duplicate option id %q", ErrInvalid, o.ID)
			}
			seenO[o.ID] = true
			if o.OrderIndex == 0 {
				o.OrderIndex = j
			}
		}
		if err := validateQuestion(*q); err != nil {
			return fmt.Errorf("%w: question %d (%s): %s", ErrInvalid, i+1, q.ID, err)
		}
	}
	return nil
}

func validateQuestion(q Question) error {
	if !q.Type.Valid() {
		return fmt.Errorf("unknown type %q", q.Type)
	}
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if q.Points <= 0 {
		return fmt.Errorf("points must be > 0")
	}
	if q.Tolerance != nil && (q.Type != grading.TypeNumber || *q.Tolerance < 0) {
		return fmt.Errorf("tolerance_numeric is only valid as a non-negative number on number questions")
	}

	nCorrect := 0
	var key Option
	for _, o := range q.Options {
		if o.IsCorrect {
			nCorrect++
			key = o
		}
	}
	switch q.Type {
	case grading.TypeMCQSingle, grading.TypeTrueFalse:
		if len(q.Options) < 2 {
			return fmt.Errorf("needs at least two options")
		}
		if nCorrect != 1 {
			return fmt.Errorf("needs exactly one correct option, has %d", nCorrect)
		}
	case grading.TypeMCQMulti:
		if len(q.Options) < 2 {
			return fmt.Errorf("needs at least two options")
		}
		if nCorrect < 1 {
			return fmt.Errorf("needs at least one correct option")
		}
	case grading.TypeNumber:
		if nCorrect != 1 {
			return fmt.Errorf("needs exactly one correct option holding the value")
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(key.Label), 64); err != nil {
			return fmt.Errorf("correct value %q is not a number", key.Label)
		}
	}
	return nil
}
