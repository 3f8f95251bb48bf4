package queue

import (
	"context"
	"errors"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/scoring"
)

// Dispatcher enqueues grading jobs for submitted attempts.
type Dispatcher struct {
	q *Queue
}

func NewDispatcher(q *Queue) *Dispatcher { return &Dispatcher{q: q} }

func (d *Dispatcher) Dispatch(ctx context.Context, req quiz.GradeRequest) (bool, error) {
	if _, _, err := d.q.Enqueue(ctx, jobData(req)); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Dispatcher) Redispatch(ctx context.Context, req quiz.GradeRequest) (bool, error) {
	if _, err := d.q.Requeue(ctx, jobData(req)); err != nil {
		return false, err
	}
	return true, nil
}

func jobData(req quiz.GradeRequest) JobData {
	return JobData{AttemptID: req.AttemptID, UserID: req.UserID, TestID: req.TestID}
}

// ScoringHandler runs the scorer for a job. Failures the scorer marks as
// permanent skip the retry budget.
func ScoringHandler(s *scoring.Scorer) Handler {
	return func(ctx context.Context, j Job, progress func(int)) (any, error) {
		progress(10)
		out, err := s.ScoreAttempt(ctx, j.Data.AttemptID)
		if err != nil {
			if errors.Is(err, scoring.ErrPermanent) {
				return nil, Permanent(err)
			}
			return nil, err
		}
		progress(90)
		return out, nil
	}
}
