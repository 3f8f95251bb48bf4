package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/release"
)

// ErrPermanent marks failures a retry cannot fix.
var ErrPermanent = errors.New("permanent scoring failure")

// Store is the slice of quiz.Store the scorer reads and writes.
type Store interface {
	GetAttempt(ctx context.Context, id string) (quiz.Attempt, error)
	GetTest(ctx context.Context, id string) (quiz.Test, error)
	ListAnswers(ctx context.Context, attemptID string) ([]quiz.Answer, error)
	SaveScore(ctx context.Context, w quiz.ScoreWrite) error
}

type Outcome struct {
	AttemptID     string      `json:"attemptId"`
	Score         float64     `json:"score"`
	MaxScore      float64     `json:"maxScore"`
	Percentage    float64     `json:"percentage"`
	Passed        bool        `json:"passed"`
	Status        quiz.Status `json:"status"`
	PendingManual bool        `json:"pendingManual,omitempty"`
}

type Scorer struct {
	store           Store
	grader          grading.Grader
	penaltyFraction float64
	events          quiz.Events
	now             func() time.Time
}

type Option func(*Scorer)

func WithGrader(g grading.Grader) Option    { return func(s *Scorer) { s.grader = g } }
func WithPenaltyFraction(f float64) Option  { return func(s *Scorer) { s.penaltyFraction = f } }
func WithEvents(ev quiz.Events) Option      { return func(s *Scorer) { s.events = ev } }
func WithClock(now func() time.Time) Option { return func(s *Scorer) { s.now = now } }

func New(store Store, opts ...Option) *Scorer {
	s := &Scorer{store: store, grader: grading.NewDefaultGrader(), penaltyFraction: 0.25, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ScoreAttempt grades every answer of a submitted attempt and persists the
// totals. Running it again on unchanged data yields the same result.
func (s *Scorer) ScoreAttempt(ctx context.Context, attemptID string) (Outcome, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, quiz.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return Outcome{}, fmt.Errorf("load attempt: %w", err)
	}
	if a.Status == quiz.StatusInProgress {
		return Outcome{}, fmt.Errorf("%w: attempt %s was never submitted", ErrPermanent, attemptID)
	}
	t, err := s.store.GetTest(ctx, a.TestID)
	if err != nil {
		if errors.Is(err, quiz.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return Outcome{}, fmt.Errorf("load test: %w", err)
	}
	if len(t.Questions) == 0 {
		return Outcome{}, fmt.Errorf("%w: test %s has no questions", ErrPermanent, t.ID)
	}
	answers, err := s.store.ListAnswers(ctx, attemptID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load answers: %w", err)
	}

	w, pending, err := s.compute(t, answers)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: attempt %s: %v", ErrPermanent, attemptID, err)
	}
	w.AttemptID = attemptID
	w.Status = release.Decide(t, pending)
	w.ScoredAt = s.now().Unix()

	if err := s.store.SaveScore(ctx, w); err != nil {
		return Outcome{}, fmt.Errorf("save score: %w", err)
	}

	status := w.Status
	if after, err := s.store.GetAttempt(ctx, attemptID); err == nil {
		status = after.Status
	}
	out := Outcome{
		AttemptID:     attemptID,
		Score:         w.Score,
		MaxScore:      w.MaxScore,
		Percentage:    w.Percentage,
		Passed:        w.Passed,
		Status:        status,
		PendingManual: pending && t.GradingMode == quiz.GradingManual,
	}
	if s.events != nil {
		if err := s.events.Append(ctx, eventlog.AttemptScored, attemptID, "", out); err != nil {
			log.Warn().Err(err).Str("attempt_id", attemptID).Msg("event append failed")
		}
	}
	return out, nil
}

// compute fails when an answer points at a question the test no longer has
// or a question's answer key is unusable; neither heals on retry.
func (s *Scorer) compute(t quiz.Test, answers []quiz.Answer) (quiz.ScoreWrite, bool, error) {
	byQuestion := make(map[string]quiz.Answer, len(answers))
	for _, a := range answers {
		if _, ok := t.Question(a.QuestionID); !ok {
			return quiz.ScoreWrite{}, false, fmt.Errorf("answered question %s is not on test %s", a.QuestionID, t.ID)
		}
		byQuestion[a.QuestionID] = a
	}
	for _, q := range t.Questions {
		if err := grading.CheckKey(q.GradingQuestion()); err != nil {
			return quiz.ScoreWrite{}, false, err
		}
	}
	pol := grading.Policy{NegativeMarking: t.NegativeMarking, PenaltyFraction: s.penaltyFraction}

	var w quiz.ScoreWrite
	var total, maxScore float64
	pending := false
	for _, q := range t.Questions {
		maxScore += q.Points
		ans, ok := byQuestion[q.ID]
		if !ok {
			continue
		}
		if ans.GradedManually {
			total += clamp(ans.AwardedPoints, 0, q.Points)
			continue
		}
		resp := grading.ParseResponse(q.Type, ans.Response)
		res := s.grader.Grade(q.GradingQuestion(), resp, pol)
		if res.NeedsManual {
			if _, empty := resp.(grading.Empty); !empty {
				pending = true
			}
		}
		total += res.AwardedPoints
		w.Answers = append(w.Answers, quiz.AnswerGrade{
			QuestionID:    q.ID,
			IsCorrect:     res.IsCorrect,
			AwardedPoints: res.AwardedPoints,
		})
	}

	w.MaxScore = maxScore
	w.Score = round(clamp(total, 0, maxScore))
	if maxScore > 0 {
		w.Percentage = round(w.Score / maxScore * 100)
	}
	w.Passed = w.Percentage >= t.PassScore
	return w, pending, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// round trims float noise (0.1+0.2) before values are stored and compared.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
