package quiz

import (
	"encoding/json"

	"github.com/mind-engage/mindengage-quiz/internal/grading"
)

type QuestionType = grading.QuestionType

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusGraded     Status = "graded"
)

type TestStatus string

const (
	TestDraft     TestStatus = "draft"
	TestPublished TestStatus = "published"
	TestArchived  TestStatus = "archived"
)

// GradingMode decides whether text answers hold back the graded status
// until an admin has awarded points.
type GradingMode string

const (
	GradingAuto   GradingMode = "auto"
	GradingManual GradingMode = "manual"
)

type Option struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	IsCorrect  bool   `json:"is_correct,omitempty"`
	OrderIndex int    `json:"order_index"`
}

type Question struct {
	ID          string       `json:"id"`
	TestID      string       `json:"test_id,omitempty"`
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"prompt"`
	Explanation string       `json:"explanation,omitempty"`
	Points      float64      `json:"points"`
	Tolerance   *float64     `json:"tolerance_numeric,omitempty"`
	OrderIndex  int          `json:"order_index"`
	Options     []Option     `json:"options,omitempty"`
}

type Test struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	PassScore          float64     `json:"pass_score"`
	MaxAttempts        int         `json:"max_attempts"`
	NegativeMarking    bool        `json:"negative_marking"`
	ShuffleQuestions   bool        `json:"shuffle_questions"`
	ShowCorrectAnswers bool        `json:"show_correct_answers"`
	ShowExplanations   bool        `json:"show_explanations"`
	ResultsReleased    bool        `json:"results_released"`
	ResultsReleaseDate *int64      `json:"results_release_date,omitempty"`
	Status             TestStatus  `json:"status"`
	GradingMode        GradingMode `json:"grading_mode"`
	CreatedAt          int64       `json:"created_at,omitempty"`

	Questions []Question `json:"questions,omitempty"`
}

type Attempt struct {
	ID              string   `json:"id"`
	TestID          string   `json:"test_id"`
	UserID          string   `json:"user_id"`
	Status          Status   `json:"status"`
	Score           *float64 `json:"score"`
	MaxScore        *float64 `json:"max_score"`
	Percentage      *float64 `json:"percentage"`
	Passed          *bool    `json:"passed"`
	StartedAt       int64    `json:"started_at"`
	SubmittedAt     *int64   `json:"submitted_at,omitempty"`
	ScoredAt        *int64   `json:"scored_at,omitempty"`
	DurationSeconds int      `json:"duration_seconds"`
	AttemptNo       int      `json:"attempt_no"`
}

type Answer struct {
	AttemptID        string          `json:"attempt_id"`
	QuestionID       string          `json:"question_id"`
	Response         json.RawMessage `json:"response_json"`
	IsCorrect        *bool           `json:"is_correct"`
	AwardedPoints    float64         `json:"awarded_points"`
	GradedManually   bool            `json:"graded_manually"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	UpdatedAt        int64           `json:"updated_at"`
}

type AnswerInput struct {
	QuestionID string          `json:"question_id"`
	Response   json.RawMessage `json:"response_json"`
	TimeSpent  int             `json:"time_spent"`
}

type AttemptListOpts struct {
	TestID string
	UserID string
	Status Status
	Limit  int
	Offset int
}

// ScoreWrite is everything one scoring pass persists.
type ScoreWrite struct {
	AttemptID  string
	Score      float64
	MaxScore   float64
	Percentage float64
	Passed     bool
	Status     Status // status to move a submitted attempt to
	ScoredAt   int64
	Answers    []AnswerGrade
}

type AnswerGrade struct {
	QuestionID    string
	IsCorrect     *bool
	AwardedPoints float64
}

// GradeRequest is what a dispatcher needs to score an attempt later.
type GradeRequest struct {
	AttemptID string `json:"attemptId"`
	UserID    string `json:"userId"`
	TestID    string `json:"testId"`
}

// GradingQuestion maps a stored question onto the grader's view.
func (q Question) GradingQuestion() grading.Question {
	opts := make([]grading.Option, len(q.Options))
	for i, o := range q.Options {
		opts[i] = grading.Option{ID: o.ID, Label: o.Label, IsCorrect: o.IsCorrect}
	}
	return grading.Question{ID: q.ID, Type: q.Type, Points: q.Points, Tolerance: q.Tolerance, Options: opts}
}

// Question returns the question with the given id.
func (t Test) Question(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}
