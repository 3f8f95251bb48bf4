package scoring_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mind-engage/mindengage-quiz/internal/db/dbtest"
	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/quiz/quiztest"
	"github.com/mind-engage/mindengage-quiz/internal/scoring"
)

type env struct {
	svc    *quiz.Service
	store  *quiz.SQLStore
	scorer *scoring.Scorer
}

func setup(t *testing.T, tt quiz.Test) env {
	t.Helper()
	store := quiz.NewSQLStore(dbtest.Open(t))
	svc := quiz.NewService(store, &quiztest.Dispatcher{}, nil)
	quiztest.Put(t, svc, tt)
	return env{svc: svc, store: store, scorer: scoring.New(store)}
}

func (e env) score(t *testing.T, attemptID string) scoring.Outcome {
	t.Helper()
	out, err := e.scorer.ScoreAttempt(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	return out
}

func answersByQuestion(t *testing.T, store *quiz.SQLStore, attemptID string) map[string]quiz.Answer {
	t.Helper()
	list, err := store.ListAnswers(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	out := map[string]quiz.Answer{}
	for _, a := range list {
		out[a.QuestionID] = a
	}
	return out
}

func TestScoreEndToEnd(t *testing.T) {
	e := setup(t, quiztest.BasicTest())

	good := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionB),
		quiztest.Q2: quiztest.Value(41),
	})
	out := e.score(t, good.ID)
	if out.Score != 5 || out.MaxScore != 5 || out.Percentage != 100 || !out.Passed {
		t.Fatalf("all correct: %+v", out)
	}
	if out.Status != quiz.StatusSubmitted {
		t.Fatalf("unreleased test must stay submitted, got %s", out.Status)
	}
	ans := answersByQuestion(t, e.store, good.ID)
	for _, q := range []string{quiztest.Q1, quiztest.Q2} {
		if ans[q].IsCorrect == nil || !*ans[q].IsCorrect {
			t.Fatalf("%s should be correct: %+v", q, ans[q])
		}
	}

	bad := quiztest.Submitted(t, e.svc, quiztest.TestID, "u2", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionA),
		quiztest.Q2: quiztest.Value(50),
	})
	out = e.score(t, bad.ID)
	if out.Score != 0 || out.MaxScore != 5 || out.Passed {
		t.Fatalf("all wrong: %+v", out)
	}
	ans = answersByQuestion(t, e.store, bad.ID)
	for _, q := range []string{quiztest.Q1, quiztest.Q2} {
		if ans[q].IsCorrect == nil || *ans[q].IsCorrect || ans[q].AwardedPoints != 0 {
			t.Fatalf("%s should be incorrect: %+v", q, ans[q])
		}
	}

	a, err := e.store.GetAttempt(context.Background(), bad.ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if a.Score == nil || *a.Score != 0 || a.MaxScore == nil || *a.MaxScore != 5 || a.ScoredAt == nil || a.Passed == nil || *a.Passed {
		t.Fatalf("persisted attempt: %+v", a)
	}
}

func TestScoreIsIdempotent(t *testing.T) {
	e := setup(t, quiztest.BasicTest())
	a := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionB),
		quiztest.Q2: quiztest.Value(44),
	})
	first := e.score(t, a.ID)
	firstAnswers := answersByQuestion(t, e.store, a.ID)
	second := e.score(t, a.ID)
	if first != second {
		t.Fatalf("outcomes differ: %+v vs %+v", first, second)
	}
	for q, ans := range answersByQuestion(t, e.store, a.ID) {
		prev := firstAnswers[q]
		if ans.AwardedPoints != prev.AwardedPoints || (ans.IsCorrect == nil) != (prev.IsCorrect == nil) {
			t.Fatalf("answer %s changed: %+v vs %+v", q, prev, ans)
		}
	}
}

func TestUnansweredQuestionsCountTowardMax(t *testing.T) {
	e := setup(t, quiztest.BasicTest())
	a := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionB),
	})
	out := e.score(t, a.ID)
	if out.Score != 2 || out.MaxScore != 5 || out.Percentage != 40 || out.Passed {
		t.Fatalf("partial attempt: %+v", out)
	}
}

func TestNegativeMarkingClampsAtZero(t *testing.T) {
	tt := quiztest.BasicTest()
	tt.NegativeMarking = true
	e := setup(t, tt)

	a := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionA),
	})
	out := e.score(t, a.ID)
	if out.Score != 0 || out.Percentage != 0 {
		t.Fatalf("total must clamp at zero: %+v", out)
	}
	if got := answersByQuestion(t, e.store, a.ID)[quiztest.Q1].AwardedPoints; got != -0.5 {
		t.Fatalf("per-answer penalty: got %v want -0.5", got)
	}

	b := quiztest.Submitted(t, e.svc, quiztest.TestID, "u2", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionA),
		quiztest.Q2: quiztest.Value(42),
	})
	out = e.score(t, b.ID)
	if out.Score != 2.5 || out.Percentage != 50 {
		t.Fatalf("penalty offsets other points: %+v", out)
	}
}

func TestReleasedTestScoresStraightToGraded(t *testing.T) {
	e := setup(t, quiztest.BasicTest())
	ctx := context.Background()
	if _, err := e.store.ReleaseTest(ctx, quiztest.TestID, 100); err != nil {
		t.Fatalf("release: %v", err)
	}
	a := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionB),
	})
	if out := e.score(t, a.ID); out.Status != quiz.StatusGraded {
		t.Fatalf("released test: got %s", out.Status)
	}
}

func TestRescoreNeverRevertsGraded(t *testing.T) {
	e := setup(t, quiztest.BasicTest())
	ctx := context.Background()
	a := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", nil)
	if err := e.store.ReleaseAttempt(ctx, a.ID); err != nil {
		t.Fatalf("release attempt: %v", err)
	}
	// the test itself is still unreleased, so the gate says submitted
	if out := e.score(t, a.ID); out.Status != quiz.StatusGraded {
		t.Fatalf("graded attempt reverted to %s", out.Status)
	}
}

func TestManualModeHoldsBackUntilGraded(t *testing.T) {
	tt := quiztest.BasicTest()
	tt.GradingMode = quiz.GradingManual
	tt.Questions = append(tt.Questions, quiz.Question{ID: "q3", Type: grading.TypeLongText, Prompt: "Discuss", Points: 5})
	e := setup(t, tt)
	ctx := context.Background()
	if _, err := e.store.ReleaseTest(ctx, quiztest.TestID, 100); err != nil {
		t.Fatalf("release: %v", err)
	}

	a := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionB),
		quiztest.Q2: quiztest.Value(42),
		"q3":        quiztest.Text("a thoughtful essay"),
	})
	out := e.score(t, a.ID)
	if out.Status != quiz.StatusSubmitted || !out.PendingManual {
		t.Fatalf("pending review must hold the attempt: %+v", out)
	}
	if out.Score != 5 || out.MaxScore != 10 {
		t.Fatalf("text answers score 0 until reviewed: %+v", out)
	}
	if ans := answersByQuestion(t, e.store, a.ID)["q3"]; ans.IsCorrect != nil {
		t.Fatalf("text answer correctness must stay unknown: %+v", ans)
	}

	if _, err := e.svc.ManualGrade(ctx, a.ID, "q3", 4, "admin"); err != nil {
		t.Fatalf("manual grade: %v", err)
	}
	out = e.score(t, a.ID)
	if out.Status != quiz.StatusGraded || out.Score != 9 || out.PendingManual {
		t.Fatalf("after review: %+v", out)
	}
	// manual points survive further passes
	if again := e.score(t, a.ID); again.Score != 9 {
		t.Fatalf("manual points lost on rescore: %+v", again)
	}
}

func TestPermanentFailures(t *testing.T) {
	empty := quiz.Test{ID: "t-empty", Title: "Empty", Status: quiz.TestPublished}
	e := setup(t, empty)
	ctx := context.Background()

	a := quiztest.Submitted(t, e.svc, "t-empty", "u1", nil)
	if _, err := e.scorer.ScoreAttempt(ctx, a.ID); !errors.Is(err, scoring.ErrPermanent) {
		t.Fatalf("zero questions: want ErrPermanent, got %v", err)
	}
	if _, err := e.scorer.ScoreAttempt(ctx, "missing"); !errors.Is(err, scoring.ErrPermanent) {
		t.Fatalf("missing attempt: want ErrPermanent, got %v", err)
	}
	open, err := e.svc.Start(ctx, "t-empty", "u2")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.scorer.ScoreAttempt(ctx, open.ID); !errors.Is(err, scoring.ErrPermanent) {
		t.Fatalf("in-progress attempt: want ErrPermanent, got %v", err)
	}
	a2, _ := e.store.GetAttempt(ctx, a.ID)
	if a2.ScoredAt != nil {
		t.Fatalf("failed scoring must not write: %+v", a2)
	}
}

func TestDroppedQuestionFailsPermanently(t *testing.T) {
	e := setup(t, quiztest.BasicTest())
	ctx := context.Background()
	a := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionB),
		quiztest.Q2: quiztest.Value(41),
	})

	trimmed := quiztest.BasicTest()
	trimmed.Questions = trimmed.Questions[:1]
	quiztest.Put(t, e.svc, trimmed)

	if _, err := e.scorer.ScoreAttempt(ctx, a.ID); !errors.Is(err, scoring.ErrPermanent) {
		t.Fatalf("answer to a removed question: want ErrPermanent, got %v", err)
	}
	got, err := e.store.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ScoredAt != nil || got.Score != nil {
		t.Fatalf("no score may be persisted: %+v", got)
	}
}

// corruptKeyStore serves the stored test with its number key overwritten,
// as a hand-edited database row would.
type corruptKeyStore struct {
	*quiz.SQLStore
}

func (s corruptKeyStore) GetTest(ctx context.Context, id string) (quiz.Test, error) {
	t, err := s.SQLStore.GetTest(ctx, id)
	for i := range t.Questions {
		if t.Questions[i].Type == grading.TypeNumber {
			for j := range t.Questions[i].Options {
				t.Questions[i].Options[j].Label = "forty-two"
			}
		}
	}
	return t, err
}

func TestCorruptAnswerKeyFailsPermanently(t *testing.T) {
	e := setup(t, quiztest.BasicTest())
	ctx := context.Background()
	a := quiztest.Submitted(t, e.svc, quiztest.TestID, "u1", map[string]json.RawMessage{
		quiztest.Q1: quiztest.Selected(quiztest.OptionB),
	})

	scorer := scoring.New(corruptKeyStore{e.store})
	if _, err := scorer.ScoreAttempt(ctx, a.ID); !errors.Is(err, scoring.ErrPermanent) {
		t.Fatalf("unparsable number key: want ErrPermanent, got %v", err)
	}
	if got, _ := e.store.GetAttempt(ctx, a.ID); got.ScoredAt != nil {
		t.Fatalf("no score may be persisted: %+v", got)
	}
}
