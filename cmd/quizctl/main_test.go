package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mind-engage/mindengage-quiz/internal/cache"
	"github.com/mind-engage/mindengage-quiz/internal/db/dbtest"
	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
	"github.com/mind-engage/mindengage-quiz/internal/queue"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/quiz/quiztest"
	"github.com/mind-engage/mindengage-quiz/internal/release"
	"github.com/mind-engage/mindengage-quiz/internal/scoring"
)

const fixture = `
id: t-yaml
title: Capitals
pass_score: 50
status: published
questions:
  - id: cap-fr
    type: mcq_single
    prompt: Capital of France?
    points: 2
    options:
      - {id: cap-fr-a, label: Paris, is_correct: true}
      - {id: cap-fr-b, label: Lyon}
  - id: cap-pi
    type: number
    prompt: Pi to two places
    points: 1
    tolerance_numeric: 0.01
    options:
      - {id: cap-pi-key, label: "3.14", is_correct: true}
---
id: t-yaml-draft
title: Draft
`

func newDeps(t *testing.T) deps {
	t.Helper()
	conn := dbtest.Open(t)
	store := quiz.NewSQLStore(conn)
	events := eventlog.NewRepo(conn)
	q := queue.New(conn, queue.Options{})
	scorer := scoring.New(store, scoring.WithEvents(events))
	w, err := queue.NewWorker(q, queue.ScoringHandler(scorer), queue.WorkerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rdb, err := cache.Connect(context.Background(), "redis://"+miniredis.RunT(t).Addr())
	if err != nil {
		t.Fatal(err)
	}
	return deps{
		svc:    quiz.NewService(store, queue.NewDispatcher(q), events),
		gate:   release.NewGate(store, cache.New(rdb, "quiz:"), time.Minute, events),
		q:      q,
		worker: w,
	}
}

func TestImportTests(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()

	tests, err := importTests(ctx, d.svc, d.gate, strings.NewReader(fixture))
	if err != nil {
		t.Fatal(err)
	}
	if len(tests) != 2 {
		t.Fatalf("imported %d tests", len(tests))
	}
	got, err := d.svc.GetTest(ctx, "t-yaml")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != quiz.TestPublished || len(got.Questions) != 2 {
		t.Fatalf("unexpected test: %+v", got)
	}
	if tol := got.Questions[1].Tolerance; tol == nil || *tol != 0.01 {
		t.Fatalf("tolerance lost: %v", tol)
	}
	if !got.Questions[0].Options[0].IsCorrect {
		t.Fatalf("answer key lost: %+v", got.Questions[0].Options)
	}
	if tests[1].Status != quiz.TestDraft {
		t.Fatalf("second document status = %s", tests[1].Status)
	}
}

func TestImportRefreshesCachedTest(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()
	if _, err := importTests(ctx, d.svc, d.gate, strings.NewReader(fixture)); err != nil {
		t.Fatal(err)
	}
	cached, err := d.gate.Test(ctx, "t-yaml")
	if err != nil || cached.ShowCorrectAnswers {
		t.Fatalf("warm cache: %+v %v", cached, err)
	}

	updated := strings.Replace(fixture, "pass_score: 50\n", "pass_score: 50\nshow_correct_answers: true\n", 1)
	if _, err := importTests(ctx, d.svc, d.gate, strings.NewReader(updated)); err != nil {
		t.Fatal(err)
	}
	got, err := d.gate.Test(ctx, "t-yaml")
	if err != nil {
		t.Fatal(err)
	}
	if !got.ShowCorrectAnswers {
		t.Fatal("gate served the test cached before the re-import")
	}
}

func TestImportRejectsInvalidDocument(t *testing.T) {
	d := newDeps(t)
	_, err := importTests(context.Background(), d.svc, d.gate, strings.NewReader("id: t-bad\ntitle: ''\n"))
	if err == nil || !strings.Contains(err.Error(), "document 1") {
		t.Fatalf("expected document error, got %v", err)
	}
}

func TestJobDrainAndRelease(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()
	if _, err := d.svc.PutTest(ctx, quiztest.BasicTest()); err != nil {
		t.Fatal(err)
	}
	a, err := d.svc.Start(ctx, quiztest.TestID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	in := quiz.AnswerInput{QuestionID: quiztest.Q1, Response: quiztest.Selected(quiztest.OptionB)}
	if _, err := d.svc.SaveAnswer(ctx, a.ID, "u1", in); err != nil {
		t.Fatal(err)
	}
	if _, _, err := d.svc.Submit(ctx, a.ID, "u1"); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(ctx, d, "ops", []string{"job", a.ID}, &out); err != nil {
		t.Fatal(err)
	}
	var st queue.Status
	if err := json.Unmarshal(out.Bytes(), &st); err != nil {
		t.Fatalf("job output: %v\n%s", err, out.String())
	}
	if st.State != queue.StateQueued || st.AttemptID != a.ID {
		t.Fatalf("unexpected status: %+v", st)
	}

	out.Reset()
	if err := run(ctx, d, "ops", []string{"drain"}, &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "processed 1 job(s)\n" {
		t.Fatalf("drain output %q", out.String())
	}
	scored, err := d.svc.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if scored.Score == nil || *scored.Score != 2 || scored.Status != quiz.StatusSubmitted {
		t.Fatalf("after drain: %+v", scored)
	}

	out.Reset()
	if err := run(ctx, d, "ops", []string{"release", quiztest.TestID}, &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "released 1 attempt(s)\n" {
		t.Fatalf("release output %q", out.String())
	}
	released, err := d.svc.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if released.Status != quiz.StatusGraded {
		t.Fatalf("status after release: %s", released.Status)
	}
}

func TestRunUsageErrors(t *testing.T) {
	d := newDeps(t)
	var out bytes.Buffer
	if err := run(context.Background(), d, "ops", []string{"job"}, &out); err == nil {
		t.Fatal("job without attempt id accepted")
	}
	if err := run(context.Background(), d, "ops", []string{"frobnicate"}, &out); err == nil {
		t.Fatal("unknown command accepted")
	}
}
