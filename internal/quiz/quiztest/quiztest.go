// Package quiztest holds shared fixtures for tests that need a seeded quiz.
package quiztest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

const (
	TestID  = "t-basic"
	Q1      = "q1" // mcq_single, 2 points, correct option q1-b
	Q2      = "q2" // number, 3 points, 42 ± 1
	OptionA = "q1-a"
	OptionB = "q1-b"
)

func tol(f float64) *float64 { return &f }

// BasicTest is a published two-question test worth 5 points.
func BasicTest() quiz.Test {
	return quiz.Test{
		ID:          TestID,
		Title:       "Basics",
		PassScore:   60,
		Status:      quiz.TestPublished,
		GradingMode: quiz.GradingAuto,
		Questions: []quiz.Question{
			{
				ID: Q1, Type: grading.TypeMCQSingle, Prompt: "Pick B", Points: 2, Explanation: "B is right",
				Options: []quiz.Option{
					{ID: OptionA, Label: "A"},
					{ID: OptionB, Label: "B", IsCorrect: true},
					{ID: "q1-c", Label: "C"},
				},
			},
			{
				ID: Q2, Type: grading.TypeNumber, Prompt: "Answer?", Points: 3, Tolerance: tol(1),
				Options: []quiz.Option{{ID: "q2-key", Label: "42", IsCorrect: true}},
			},
		},
	}
}

func Selected(id string) json.RawMessage { return json.RawMessage(`{"selected":"` + id + `"}`) }

func Value(v float64) json.RawMessage {
	b, _ := json.Marshal(map[string]float64{"value": v})
	return b
}

func Text(s string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"text": s})
	return b
}

// Dispatcher records dispatch calls without scoring anything.
type Dispatcher struct {
	mu           sync.Mutex
	Dispatched   []quiz.GradeRequest
	Redispatched []quiz.GradeRequest
	Err          error
}

func (d *Dispatcher) Dispatch(_ context.Context, req quiz.GradeRequest) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Dispatched = append(d.Dispatched, req)
	return true, d.Err
}

func (d *Dispatcher) Redispatch(_ context.Context, req quiz.GradeRequest) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Redispatched = append(d.Redispatched, req)
	return true, d.Err
}

// Put stores t through svc and fails the test on error.
func Put(tb testing.TB, svc *quiz.Service, t quiz.Test) quiz.Test {
	tb.Helper()
	out, err := svc.PutTest(context.Background(), t)
	if err != nil {
		tb.Fatalf("put test: %v", err)
	}
	return out
}

// Submitted starts an attempt for user, stores the given answers and
// submits it.
func Submitted(tb testing.TB, svc *quiz.Service, testID, user string, answers map[string]json.RawMessage) quiz.Attempt {
	tb.Helper()
	ctx := context.Background()
	a, err := svc.Start(ctx, testID, user)
	if err != nil {
		tb.Fatalf("start: %v", err)
	}
	for qid, raw := range answers {
		if _, err := svc.SaveAnswer(ctx, a.ID, user, quiz.AnswerInput{QuestionID: qid, Response: raw}); err != nil {
			tb.Fatalf("save %s: %v", qid, err)
		}
	}
	a, _, err = svc.Submit(ctx, a.ID, user)
	if err != nil {
		tb.Fatalf("submit: %v", err)
	}
	return a
}
