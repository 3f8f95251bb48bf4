package release

import (
	"encoding/json"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"

	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

type Viewer struct {
	ID    string
	Admin bool
}

// AttemptView is the attempt as a given viewer may see it.
type AttemptView struct {
	ID              string       `json:"id"`
	TestID          string       `json:"test_id"`
	UserID          string       `json:"user_id"`
	Status          quiz.Status  `json:"status"`
	Score           *float64     `json:"score"`
	MaxScore        *float64     `json:"max_score"`
	Percentage      *float64     `json:"percentage"`
	Passed          *bool        `json:"passed"`
	StartedAt       int64        `json:"started_at"`
	SubmittedAt     *int64       `json:"submitted_at,omitempty"`
	ScoredAt        *int64       `json:"scored_at,omitempty"`
	DurationSeconds int          `json:"duration_seconds"`
	AttemptNo       int          `json:"attempt_no"`
	ResultsPending  bool         `json:"results_pending"`
	Answers         []AnswerView `json:"answers"`
}

type AnswerView struct {
	QuestionID       string          `json:"question_id"`
	Response         json.RawMessage `json:"response_json"`
	IsCorrect        *bool           `json:"is_correct,omitempty"`
	AwardedPoints    *float64        `json:"awarded_points,omitempty"`
	GradedManually   bool            `json:"graded_manually,omitempty"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	CorrectOptionIDs []string        `json:"correct_option_ids,omitempty"`
	CorrectValue     string          `json:"correct_value,omitempty"`
	Explanation      string          `json:"explanation,omitempty"`
}

// View masks an attempt for v. Admins see everything. Anyone else sees
// results only once the attempt is graded and scored; until then scores and
// answers are withheld and ResultsPending is set. Correctness detail and
// explanations follow the test's show_* settings.
func View(a quiz.Attempt, answers []quiz.Answer, t quiz.Test, v Viewer) AttemptView {
	var out AttemptView
	if err := copier.Copy(&out, &a); err != nil {
		log.Warn().Err(err).Str("attempt_id", a.ID).Msg("attempt view copy failed; mapping fields directly")
		out = attemptFields(a)
	}

	if v.Admin {
		out.ResultsPending = a.Status != quiz.StatusInProgress && (a.ScoredAt == nil || a.Status == quiz.StatusSubmitted)
		out.Answers = answerViews(answers, t, true, true)
		return out
	}

	switch {
	case a.Status == quiz.StatusInProgress:
		// own responses while taking the test, nothing graded yet
		out.Answers = answerViews(answers, t, false, false)
	case a.Status == quiz.StatusSubmitted || a.ScoredAt == nil:
		out.Score, out.MaxScore, out.Percentage, out.Passed = nil, nil, nil, nil
		out.Answers = nil
		out.ResultsPending = true
	default:
		out.Answers = answerViews(answers, t, t.ShowCorrectAnswers, t.ShowExplanations)
	}
	return out
}

// attemptFields is the field-by-field form of the copier mapping.
func attemptFields(a quiz.Attempt) AttemptView {
	return AttemptView{
		ID:              a.ID,
		TestID:          a.TestID,
		UserID:          a.UserID,
		Status:          a.Status,
		Score:           a.Score,
		MaxScore:        a.MaxScore,
		Percentage:      a.Percentage,
		Passed:          a.Passed,
		StartedAt:       a.StartedAt,
		SubmittedAt:     a.SubmittedAt,
		ScoredAt:        a.ScoredAt,
		DurationSeconds: a.DurationSeconds,
		AttemptNo:       a.AttemptNo,
	}
}

func answerViews(answers []quiz.Answer, t quiz.Test, showCorrect, showExplain bool) []AnswerView {
	out := make([]AnswerView, 0, len(answers))
	for _, a := range answers {
		av := AnswerView{
			QuestionID:       a.QuestionID,
			Response:         a.Response,
			GradedManually:   a.GradedManually,
			TimeSpentSeconds: a.TimeSpentSeconds,
		}
		q, known := t.Question(a.QuestionID)
		if showCorrect {
			av.IsCorrect = a.IsCorrect
			pts := a.AwardedPoints
			av.AwardedPoints = &pts
			if known {
				for _, o := range q.Options {
					switch {
					case !o.IsCorrect || q.Type.IsText():
					case q.Type == grading.TypeNumber:
						av.CorrectValue = o.Label
					default:
						av.CorrectOptionIDs = append(av.CorrectOptionIDs, o.ID)
					}
				}
			}
		}
		if showExplain && known {
			av.Explanation = q.Explanation
		}
		out = append(out, av)
	}
	return out
}
