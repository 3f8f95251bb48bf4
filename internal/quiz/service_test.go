package quiz_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mind-engage/mindengage-quiz/internal/db/dbtest"
	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/quiz/quiztest"
)

func newService(t *testing.T) (*quiz.Service, *quiz.SQLStore, *quiztest.Dispatcher) {
	t.Helper()
	store := quiz.NewSQLStore(dbtest.Open(t))
	d := &quiztest.Dispatcher{}
	return quiz.NewService(store, d, nil), store, d
}

func TestPutTestValidatesAuthoringInvariants(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	bad := quiztest.BasicTest()
	bad.Questions[0].Options[0].IsCorrect = true // two correct answers on a single choice
	if _, err := svc.PutTest(ctx, bad); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}

	bad = quiztest.BasicTest()
	bad.Questions[1].Options[0].Label = "forty-two"
	if _, err := svc.PutTest(ctx, bad); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("want ErrInvalid for non-numeric key, got %v", err)
	}

	bad = quiztest.BasicTest()
	bad.PassScore = 120
	if _, err := svc.PutTest(ctx, bad); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("want ErrInvalid for pass_score, got %v", err)
	}

	got := quiztest.Put(t, svc, quiztest.BasicTest())
	if len(got.Questions) != 2 || len(got.Questions[0].Options) != 3 {
		t.Fatalf("round trip lost questions: %+v", got)
	}
	if got.Questions[1].Tolerance == nil || *got.Questions[1].Tolerance != 1 {
		t.Fatalf("tolerance not stored: %+v", got.Questions[1])
	}
	if !got.Questions[0].Options[1].IsCorrect {
		t.Fatalf("answer key not stored")
	}
}

func TestStartAttemptRules(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	draft := quiztest.BasicTest()
	draft.Status = quiz.TestDraft
	quiztest.Put(t, svc, draft)
	if _, err := svc.Start(ctx, quiztest.TestID, "u1"); !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("draft test: want ErrConflict, got %v", err)
	}
	if _, err := svc.Start(ctx, "missing", "u1"); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("missing test: want ErrNotFound, got %v", err)
	}

	limited := quiztest.BasicTest()
	limited.MaxAttempts = 2
	quiztest.Put(t, svc, limited)
	a1, err := svc.Start(ctx, quiztest.TestID, "u1")
	if err != nil {
		t.Fatalf("start 1: %v", err)
	}
	a2, err := svc.Start(ctx, quiztest.TestID, "u1")
	if err != nil {
		t.Fatalf("start 2: %v", err)
	}
	if a1.AttemptNo != 1 || a2.AttemptNo != 2 || a1.Status != quiz.StatusInProgress {
		t.Fatalf("attempt numbering: %+v %+v", a1, a2)
	}
	if _, err := svc.Start(ctx, quiztest.TestID, "u1"); !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("third start: want ErrConflict, got %v", err)
	}
	if _, err := svc.Start(ctx, quiztest.TestID, "u2"); err != nil {
		t.Fatalf("limit is per user: %v", err)
	}
}

func TestAnswersFreezeAfterSubmit(t *testing.T) {
	svc, store, d := newService(t)
	ctx := context.Background()
	quiztest.Put(t, svc, quiztest.BasicTest())

	a, err := svc.Start(ctx, quiztest.TestID, "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	save := func(user, qid string, raw json.RawMessage) error {
		_, err := svc.SaveAnswer(ctx, a.ID, user, quiz.AnswerInput{QuestionID: qid, Response: raw, TimeSpent: 5})
		return err
	}

	if err := save("u1", quiztest.Q1, quiztest.Selected(quiztest.OptionA)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := save("u1", quiztest.Q1, quiztest.Selected(quiztest.OptionB)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := save("u2", quiztest.Q1, quiztest.Selected(quiztest.OptionB)); !errors.Is(err, quiz.ErrForbidden) {
		t.Fatalf("non-owner: want ErrForbidden, got %v", err)
	}
	if err := save("u1", "nope", quiztest.Selected(quiztest.OptionB)); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("foreign question: want ErrInvalid, got %v", err)
	}
	if err := save("u1", quiztest.Q2, quiztest.Text("42")); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("wrong shape: want ErrInvalid, got %v", err)
	}
	if err := save("u1", quiztest.Q2, json.RawMessage(`{"value":"41 apples"}`)); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("number as string: want ErrInvalid, got %v", err)
	}
	if err := save("u1", quiztest.Q2, json.RawMessage(`{"selected":"x","value":41}`)); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("stray field: want ErrInvalid, got %v", err)
	}

	answers, err := store.ListAnswers(ctx, a.ID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if len(answers) != 1 || string(answers[0].Response) != string(quiztest.Selected(quiztest.OptionB)) {
		t.Fatalf("upsert should keep one row with the latest response: %+v", answers)
	}

	if _, _, err := svc.Submit(ctx, a.ID, "u2"); !errors.Is(err, quiz.ErrForbidden) {
		t.Fatalf("non-owner submit: want ErrForbidden, got %v", err)
	}
	sub, queued, err := svc.Submit(ctx, a.ID, "u1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !queued || sub.Status != quiz.StatusSubmitted || sub.SubmittedAt == nil {
		t.Fatalf("submitted attempt: %+v queued=%v", sub, queued)
	}
	if len(d.Dispatched) != 1 || d.Dispatched[0].AttemptID != a.ID || d.Dispatched[0].TestID != quiztest.TestID {
		t.Fatalf("dispatch calls: %+v", d.Dispatched)
	}

	if err := save("u1", quiztest.Q2, quiztest.Value(42)); !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("save after submit: want ErrConflict, got %v", err)
	}
	// the store guard holds even when the service-level check is bypassed
	err = store.UpsertAnswer(ctx, quiz.Answer{AttemptID: a.ID, QuestionID: quiztest.Q2, Response: quiztest.Value(42), UpdatedAt: 1})
	if !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("store upsert after submit: want ErrConflict, got %v", err)
	}
	if _, _, err := svc.Submit(ctx, a.ID, "u1"); !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("resubmit: want ErrConflict, got %v", err)
	}
	if len(d.Dispatched) != 1 {
		t.Fatalf("resubmit must not dispatch again: %d", len(d.Dispatched))
	}
}

func TestGetTestForStudent(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tt := quiztest.BasicTest()
	tt.ShuffleQuestions = true
	for i := 0; i < 8; i++ {
		tt.Questions = append(tt.Questions, quiz.Question{
			Type: grading.TypeTrueFalse, Prompt: "tf", Points: 1,
			Options: []quiz.Option{{Label: "True", IsCorrect: true}, {Label: "False"}},
		})
	}
	quiztest.Put(t, svc, tt)

	st, err := svc.GetTestForStudent(ctx, quiztest.TestID, "attempt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, q := range st.Questions {
		if q.Explanation != "" {
			t.Fatalf("explanation leaked on %s", q.ID)
		}
		for _, o := range q.Options {
			if o.IsCorrect {
				t.Fatalf("answer key leaked on %s", q.ID)
			}
		}
		if q.Type == grading.TypeNumber && len(q.Options) != 0 {
			t.Fatalf("number key leaked")
		}
	}

	again, _ := svc.GetTestForStudent(ctx, quiztest.TestID, "attempt-1")
	for i := range st.Questions {
		if st.Questions[i].ID != again.Questions[i].ID {
			t.Fatalf("shuffle is not stable for the same seed")
		}
	}

	draft := quiztest.BasicTest()
	draft.ID = "t-draft"
	draft.Status = quiz.TestDraft
	for i := range draft.Questions {
		draft.Questions[i].ID = ""
		for j := range draft.Questions[i].Options {
			draft.Questions[i].Options[j].ID = ""
		}
	}
	quiztest.Put(t, svc, draft)
	if _, err := svc.GetTestForStudent(ctx, "t-draft", ""); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("draft test: want ErrNotFound, got %v", err)
	}
}

func TestManualGradeRules(t *testing.T) {
	svc, _, d := newService(t)
	ctx := context.Background()

	tt := quiztest.BasicTest()
	tt.Questions = append(tt.Questions, quiz.Question{ID: "q3", Type: grading.TypeShortText, Prompt: "Explain", Points: 4})
	quiztest.Put(t, svc, tt)

	a, err := svc.Start(ctx, quiztest.TestID, "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.ManualGrade(ctx, a.ID, "q3", 2, "admin"); !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("in-progress attempt: want ErrConflict, got %v", err)
	}
	if _, _, err := svc.Submit(ctx, a.ID, "u1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.ManualGrade(ctx, a.ID, quiztest.Q1, 1, "admin"); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("auto-graded question: want ErrInvalid, got %v", err)
	}
	if _, err := svc.ManualGrade(ctx, a.ID, "q3", 5, "admin"); !errors.Is(err, quiz.ErrInvalid) {
		t.Fatalf("too many points: want ErrInvalid, got %v", err)
	}
	if _, err := svc.ManualGrade(ctx, a.ID, "q3", 3, "admin"); err != nil {
		t.Fatalf("manual grade: %v", err)
	}
	answers, _ := svc.ListAnswers(ctx, a.ID)
	if len(answers) != 1 || !answers[0].GradedManually || answers[0].AwardedPoints != 3 {
		t.Fatalf("manual grade row: %+v", answers)
	}
	if len(d.Redispatched) != 1 || d.Redispatched[0].AttemptID != a.ID {
		t.Fatalf("manual grade must trigger a rescore: %+v", d.Redispatched)
	}
}

func TestReleaseAttemptStore(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	quiztest.Put(t, svc, quiztest.BasicTest())

	a, _ := svc.Start(ctx, quiztest.TestID, "u1")
	if err := store.ReleaseAttempt(ctx, a.ID); !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("in-progress release: want ErrConflict, got %v", err)
	}
	if _, _, err := svc.Submit(ctx, a.ID, "u1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := store.ReleaseAttempt(ctx, a.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := store.ReleaseAttempt(ctx, a.ID); !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("second release: want ErrConflict, got %v", err)
	}
	if err := store.ReleaseAttempt(ctx, "missing"); !errors.Is(err, quiz.ErrConflict) {
		t.Fatalf("missing attempt: want ErrConflict, got %v", err)
	}
}

func TestListAttemptsFilters(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	quiztest.Put(t, svc, quiztest.BasicTest())

	quiztest.Submitted(t, svc, quiztest.TestID, "u1", nil)
	if _, err := svc.Start(ctx, quiztest.TestID, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Start(ctx, quiztest.TestID, "u2"); err != nil {
		t.Fatalf("start: %v", err)
	}

	mine, err := svc.ListAttempts(ctx, quiz.AttemptListOpts{UserID: "u1"})
	if err != nil || len(mine) != 2 {
		t.Fatalf("u1 attempts: %d %v", len(mine), err)
	}
	sub, _ := svc.ListAttempts(ctx, quiz.AttemptListOpts{Status: quiz.StatusSubmitted})
	if len(sub) != 1 || sub[0].UserID != "u1" {
		t.Fatalf("submitted filter: %+v", sub)
	}
	page, _ := svc.ListAttempts(ctx, quiz.AttemptListOpts{TestID: quiztest.TestID, Limit: 1, Offset: 1})
	if len(page) != 1 {
		t.Fatalf("paging: %+v", page)
	}
}
