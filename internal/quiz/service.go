package quiz

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
	"github.com/mind-engage/mindengage-quiz/internal/grading"
)

// Dispatcher hands a submitted attempt to the scorer. Queued reports whether
// scoring will happen later.
type Dispatcher interface {
	Dispatch(ctx context.Context, req GradeRequest) (queued bool, err error)
	// Redispatch schedules another scoring pass for an attempt that was
	// already scored, e.g. after a manual grade.
	Redispatch(ctx context.Context, req GradeRequest) (queued bool, err error)
}

// Events receives audit events. Failures are logged, never surfaced.
type Events interface {
	Append(ctx context.Context, typ, key, actor string, data any) error
}

type Service struct {
	store    Store
	dispatch Dispatcher
	events   Events
	now      func() time.Time
}

func NewService(store Store, d Dispatcher, ev Events) *Service {
	return &Service{store: store, dispatch: d, events: ev, now: time.Now}
}

func (s *Service) Store() Store { return s.store }

func (s *Service) PutTest(ctx context.Context, t Test) (Test, error) {
	if err := t.Normalize(); err != nil {
		return Test{}, err
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = s.now().Unix()
	}
	if err := s.store.PutTest(ctx, t); err != nil {
		return Test{}, err
	}
	return s.store.GetTest(ctx, t.ID)
}

func (s *Service) GetTest(ctx context.Context, id string) (Test, error) {
	return s.store.GetTest(ctx, id)
}

// GetTestForStudent hides the answer key and explanations. Unpublished
// tests do not exist for students. With shuffle_questions the order is a
// stable permutation seeded by seed (the attempt id).
func (s *Service) GetTestForStudent(ctx context.Context, id, seed string) (Test, error) {
	t, err := s.store.GetTest(ctx, id)
	if err != nil {
		return Test{}, err
	}
	if t.Status != TestPublished {
		return Test{}, fmt.Errorf("test %s: %w", id, ErrNotFound)
	}
	for i := range t.Questions {
		q := &t.Questions[i]
		q.Explanation = ""
		switch q.Type {
		case grading.TypeNumber, grading.TypeShortText, grading.TypeLongText:
			q.Options = nil // the option carries the answer itself
		default:
			for j := range q.Options {
				q.Options[j].IsCorrect = false
			}
		}
	}
	if t.ShuffleQuestions && seed != "" {
		h := fnv.New64a()
		_, _ = h.Write([]byte(seed))
		r := rand.New(rand.NewSource(int64(h.Sum64())))
		r.Shuffle(len(t.Questions), func(i, j int) {
			t.Questions[i], t.Questions[j] = t.Questions[j], t.Questions[i]
		})
	}
	return t, nil
}

func (s *Service) Start(ctx context.Context, testID, userID string) (Attempt, error) {
	return s.store.StartAttempt(ctx, testID, userID, s.now().Unix())
}

func (s *Service) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	return s.store.GetAttempt(ctx, id)
}

func (s *Service) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, opts)
}

func (s *Service) ListAnswers(ctx context.Context, attemptID string) ([]Answer, error) {
	return s.store.ListAnswers(ctx, attemptID)
}

// owned loads the attempt and checks the caller owns it.
func (s *Service) owned(ctx context.Context, attemptID, userID string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != userID {
		return Attempt{}, fmt.Errorf("attempt %s: %w", attemptID, ErrForbidden)
	}
	return a, nil
}

func (s *Service) SaveAnswer(ctx context.Context, attemptID, userID string, in AnswerInput) (Answer, error) {
	a, err := s.owned(ctx, attemptID, userID)
	if err != nil {
		return Answer{}, err
	}
	if a.Status != StatusInProgress {
		return Answer{}, fmt.Errorf("attempt %s is %s: %w", attemptID, a.Status, ErrConflict)
	}
	t, err := s.store.GetTest(ctx, a.TestID)
	if err != nil {
		return Answer{}, err
	}
	q, ok := t.Question(in.QuestionID)
	if !ok {
		return Answer{}, fmt.Errorf("question %q is not part of test %s: %w", in.QuestionID, t.ID, ErrInvalid)
	}
	if err := grading.ValidateResponse(q.Type, in.Response); err != nil {
		return Answer{}, fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	if in.TimeSpent < 0 {
		return Answer{}, fmt.Errorf("%w: time_spent must be >= 0", ErrInvalid)
	}

	ans := Answer{
		AttemptID:        attemptID,
		QuestionID:       q.ID,
		Response:         in.Response,
		TimeSpentSeconds: in.TimeSpent,
		UpdatedAt:        s.now().Unix(),
	}
	if err := s.store.UpsertAnswer(ctx, ans); err != nil {
		return Answer{}, err
	}
	return ans, nil
}

// Submit freezes the attempt and hands it to the dispatcher. The returned
// flag reports whether scoring was queued rather than done inline.
func (s *Service) Submit(ctx context.Context, attemptID, userID string) (Attempt, bool, error) {
	a, err := s.owned(ctx, attemptID, userID)
	if err != nil {
		return Attempt{}, false, err
	}
	ok, err := s.store.MarkSubmitted(ctx, attemptID, s.now().Unix())
	if err != nil {
		return Attempt{}, false, err
	}
	if !ok {
		return Attempt{}, false, fmt.Errorf("attempt %s already submitted: %w", attemptID, ErrConflict)
	}
	s.emit(ctx, eventlog.AttemptSubmitted, attemptID, userID, map[string]any{"test_id": a.TestID})

	queued, err := s.dispatch.Dispatch(ctx, GradeRequest{AttemptID: attemptID, UserID: a.UserID, TestID: a.TestID})
	if err != nil {
		// the attempt stays submitted; an admin rescore recovers it
		return Attempt{}, false, fmt.Errorf("dispatch grading for %s: %w", attemptID, err)
	}
	a, err = s.store.GetAttempt(ctx, attemptID)
	return a, queued, err
}

// ManualGrade awards points to a text answer and schedules a re-score.
func (s *Service) ManualGrade(ctx context.Context, attemptID, questionID string, points float64, actor string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status == StatusInProgress {
		return Attempt{}, fmt.Errorf("attempt %s is still in progress: %w", attemptID, ErrConflict)
	}
	t, err := s.store.GetTest(ctx, a.TestID)
	if err != nil {
		return Attempt{}, err
	}
	q, ok := t.Question(questionID)
	if !ok {
		return Attempt{}, fmt.Errorf("question %q is not part of test %s: %w", questionID, t.ID, ErrNotFound)
	}
	if !q.Type.IsText() {
		return Attempt{}, fmt.Errorf("%w: only text questions are graded manually", ErrInvalid)
	}
	if points < 0 || points > q.Points {
		return Attempt{}, fmt.Errorf("%w: awarded_points must be between 0 and %g", ErrInvalid, q.Points)
	}
	if err := s.store.SetManualPoints(ctx, attemptID, questionID, points, s.now().Unix()); err != nil {
		return Attempt{}, err
	}
	s.emit(ctx, eventlog.AnswerGradedManually, attemptID, actor, map[string]any{"question_id": questionID, "points": points})

	if _, err := s.dispatch.Redispatch(ctx, GradeRequest{AttemptID: attemptID, UserID: a.UserID, TestID: a.TestID}); err != nil {
		return Attempt{}, fmt.Errorf("rescore %s: %w", attemptID, err)
	}
	return s.store.GetAttempt(ctx, attemptID)
}

// Rescore schedules a fresh scoring pass for a submitted or graded attempt.
func (s *Service) Rescore(ctx context.Context, attemptID string) (bool, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return false, err
	}
	if a.Status == StatusInProgress {
		return false, fmt.Errorf("attempt %s is still in progress: %w", attemptID, ErrConflict)
	}
	return s.dispatch.Redispatch(ctx, GradeRequest{AttemptID: attemptID, UserID: a.UserID, TestID: a.TestID})
}

func (s *Service) emit(ctx context.Context, typ, key, actor string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, typ, key, actor, data); err != nil {
		log.Warn().Err(err).Str("event", typ).Str("key", key).Msg("event append failed")
	}
}
