package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{db: conn}
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// PutTest upserts the test settings and replaces its questions. Release
// state and created_at survive re-authoring.
func (s *SQLStore) PutTest(ctx context.Context, t Test) error {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tests
			(id,title,pass_score,max_attempts,negative_marking,shuffle_questions,show_correct_answers,show_explanations,status,grading_mode,created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO UPDATE SET title=excluded.title, pass_score=excluded.pass_score,
				max_attempts=excluded.max_attempts, negative_marking=excluded.negative_marking,
				shuffle_questions=excluded.shuffle_questions, show_correct_answers=excluded.show_correct_answers,
				show_explanations=excluded.show_explanations, status=excluded.status, grading_mode=excluded.grading_mode`,
			t.ID, t.Title, t.PassScore, t.MaxAttempts, db.BoolInt(t.NegativeMarking), db.BoolInt(t.ShuffleQuestions),
			db.BoolInt(t.ShowCorrectAnswers), db.BoolInt(t.ShowExplanations), string(t.Status), string(t.GradingMode), t.CreatedAt)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM question_options WHERE question_id IN (SELECT id FROM questions WHERE test_id=$1)`, t.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1`, t.ID); err != nil {
			return err
		}
		for _, q := range t.Questions {
			var tol any
			if q.Tolerance != nil {
				tol = *q.Tolerance
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO questions (id,test_id,type,prompt,explanation,points,tolerance_numeric,order_index)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				q.ID, t.ID, string(q.Type), q.Prompt, q.Explanation, q.Points, tol, q.OrderIndex); err != nil {
				return err
			}
			for _, o := range q.Options {
				if _, err := tx.ExecContext(ctx, `INSERT INTO question_options (id,question_id,label,is_correct,order_index)
					VALUES ($1,$2,$3,$4,$5)`, o.ID, q.ID, o.Label, db.BoolInt(o.IsCorrect), o.OrderIndex); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("put test %s: %w: question or option id already used by another test", t.ID, ErrConflict)
	}
	return err
}

const testCols = `id,title,pass_score,max_attempts,negative_marking,shuffle_questions,show_correct_answers,
	show_explanations,results_released,results_release_date,status,grading_mode,created_at`

func (s *SQLStore) GetTest(ctx context.Context, id string) (Test, error) {
	var t Test
	var rel sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT `+testCols+` FROM tests WHERE id=$1`, id).Scan(
		&t.ID, &t.Title, &t.PassScore, &t.MaxAttempts, &t.NegativeMarking, &t.ShuffleQuestions,
		&t.ShowCorrectAnswers, &t.ShowExplanations, &t.ResultsReleased, &rel, &t.Status, &t.GradingMode, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, fmt.Errorf("test %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Test{}, err
	}
	if rel.Valid {
		t.ResultsReleaseDate = &rel.Int64
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id,type,prompt,explanation,points,tolerance_numeric,order_index
		FROM questions WHERE test_id=$1 ORDER BY order_index, id`, id)
	if err != nil {
		return Test{}, err
	}
	defer rows.Close()
	index := map[string]int{}
	for rows.Next() {
		q := Question{TestID: id}
		var tol sql.NullFloat64
		if err := rows.Scan(&q.ID, &q.Type, &q.Prompt, &q.Explanation, &q.Points, &tol, &q.OrderIndex); err != nil {
			return Test{}, err
		}
		if tol.Valid {
			q.Tolerance = &tol.Float64
		}
		index[q.ID] = len(t.Questions)
		t.Questions = append(t.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return Test{}, err
	}
	rows.Close()

	orows, err := s.db.QueryContext(ctx, `SELECT o.id,o.question_id,o.label,o.is_correct,o.order_index
		FROM question_options o JOIN questions q ON q.id=o.question_id
		WHERE q.test_id=$1 ORDER BY o.order_index, o.id`, id)
	if err != nil {
		return Test{}, err
	}
	defer orows.Close()
	for orows.Next() {
		var o Option
		var qid string
		if err := orows.Scan(&o.ID, &qid, &o.Label, &o.IsCorrect, &o.OrderIndex); err != nil {
			return Test{}, err
		}
		if i, ok := index[qid]; ok {
			t.Questions[i].Options = append(t.Questions[i].Options, o)
		}
	}
	return t, orows.Err()
}

func (s *SQLStore) StartAttempt(ctx context.Context, testID, userID string, now int64) (Attempt, error) {
	a := Attempt{ID: uuid.NewString(), TestID: testID, UserID: userID, Status: StatusInProgress, StartedAt: now}
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var status TestStatus
		var maxAttempts int
		err := tx.QueryRowContext(ctx, `SELECT status,max_attempts FROM tests WHERE id=$1`, testID).Scan(&status, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("test %s: %w", testID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if status != TestPublished {
			return fmt.Errorf("test %s is %s: %w", testID, status, ErrConflict)
		}

		var count, lastNo int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MAX(attempt_no),0) FROM attempts WHERE test_id=$1 AND user_id=$2`,
			testID, userID).Scan(&count, &lastNo); err != nil {
			return err
		}
		if maxAttempts > 0 && count >= maxAttempts {
			return fmt.Errorf("attempt limit of %d reached: %w", maxAttempts, ErrConflict)
		}
		a.AttemptNo = lastNo + 1
		_, err = tx.ExecContext(ctx, `INSERT INTO attempts (id,test_id,user_id,status,started_at,attempt_no)
			VALUES ($1,$2,$3,$4,$5,$6)`, a.ID, testID, userID, string(StatusInProgress), now, a.AttemptNo)
		return err
	})
	if db.IsUniqueViolation(err) {
		return Attempt{}, fmt.Errorf("concurrent start for test %s: %w", testID, ErrConflict)
	}
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

const attemptCols = `id,test_id,user_id,status,score,max_score,percentage,passed,started_at,submitted_at,scored_at,duration_seconds,attempt_no`

type scanner interface{ Scan(dest ...any) error }

func scanAttempt(sc scanner) (Attempt, error) {
	var a Attempt
	var score, maxScore, pct sql.NullFloat64
	var passed sql.NullBool
	var submitted, scored sql.NullInt64
	if err := sc.Scan(&a.ID, &a.TestID, &a.UserID, &a.Status, &score, &maxScore, &pct, &passed,
		&a.StartedAt, &submitted, &scored, &a.DurationSeconds, &a.AttemptNo); err != nil {
		return Attempt{}, err
	}
	if score.Valid {
		a.Score = &score.Float64
	}
	if maxScore.Valid {
		a.MaxScore = &maxScore.Float64
	}
	if pct.Valid {
		a.Percentage = &pct.Float64
	}
	if passed.Valid {
		a.Passed = &passed.Bool
	}
	if submitted.Valid {
		a.SubmittedAt = &submitted.Int64
	}
	if scored.Valid {
		a.ScoredAt = &scored.Int64
	}
	return a, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if opts.TestID != "" {
		add("test_id=$%d", opts.TestID)
	}
	if opts.UserID != "" {
		add("user_id=$%d", opts.UserID)
	}
	if opts.Status != "" {
		add("status=$%d", string(opts.Status))
	}
	q := `SELECT ` + attemptCols + ` FROM attempts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	q += fmt.Sprintf(" ORDER BY started_at DESC, id LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListAnswers(ctx context.Context, attemptID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT attempt_id,question_id,response_json,is_correct,awarded_points,
		graded_manually,time_spent_seconds,updated_at FROM attempt_answers WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Answer{}
	for rows.Next() {
		var a Answer
		var resp string
		var ok sql.NullBool
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &resp, &ok, &a.AwardedPoints,
			&a.GradedManually, &a.TimeSpentSeconds, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Response = []byte(resp)
		if ok.Valid {
			a.IsCorrect = &ok.Bool
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// The INSERT ... SELECT form lets the status guard and the upsert run as one
// statement. Casts pin parameter types for Postgres.
func (s *SQLStore) UpsertAnswer(ctx context.Context, a Answer) error {
	resp := string(a.Response)
	if resp == "" {
		resp = "{}"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO attempt_answers (attempt_id,question_id,response_json,time_spent_seconds,updated_at)
		SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), CAST($3 AS TEXT), CAST($4 AS INTEGER), CAST($5 AS BIGINT)
		WHERE EXISTS (SELECT 1 FROM attempts WHERE id=$1 AND status='in_progress')
		ON CONFLICT (attempt_id,question_id) DO UPDATE SET response_json=excluded.response_json,
			time_spent_seconds=excluded.time_spent_seconds, updated_at=excluded.updated_at`,
		a.AttemptID, a.QuestionID, resp, a.TimeSpentSeconds, a.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %s is no longer in progress: %w", a.AttemptID, ErrConflict)
	}
	return nil
}

func (s *SQLStore) MarkSubmitted(ctx context.Context, attemptID string, now int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET status='submitted', submitted_at=$1,
		duration_seconds=CAST($1 AS BIGINT) - started_at
		WHERE id=$2 AND status='in_progress'`, now, attemptID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SaveScore writes per-answer grades and the attempt totals in one
// transaction. Manually graded answers are left alone, and a graded attempt
// stays graded.
func (s *SQLStore) SaveScore(ctx context.Context, w ScoreWrite) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, g := range w.Answers {
			var ok any
			if g.IsCorrect != nil {
				ok = db.BoolInt(*g.IsCorrect)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE attempt_answers SET is_correct=$1, awarded_points=$2
				WHERE attempt_id=$3 AND question_id=$4 AND graded_manually=0`,
				ok, g.AwardedPoints, w.AttemptID, g.QuestionID); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE attempts SET score=$1, max_score=$2, percentage=$3, passed=$4, scored_at=$5,
			status=CASE WHEN status='graded' THEN status ELSE $6 END
			WHERE id=$7 AND status IN ('submitted','graded')`,
			w.Score, w.MaxScore, w.Percentage, db.BoolInt(w.Passed), w.ScoredAt, string(w.Status), w.AttemptID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("attempt %s is not submitted: %w", w.AttemptID, ErrConflict)
		}
		return nil
	})
}

func (s *SQLStore) SetManualPoints(ctx context.Context, attemptID, questionID string, points float64, now int64) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO attempt_answers (attempt_id,question_id,response_json,awarded_points,graded_manually,updated_at)
		SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), '{}', CAST($3 AS DOUBLE PRECISION), 1, CAST($4 AS BIGINT)
		WHERE EXISTS (SELECT 1 FROM attempts WHERE id=$1 AND status IN ('submitted','graded'))
		ON CONFLICT (attempt_id,question_id) DO UPDATE SET awarded_points=excluded.awarded_points,
			graded_manually=1, updated_at=excluded.updated_at`,
		attemptID, questionID, points, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %s is not submitted: %w", attemptID, ErrConflict)
	}
	return nil
}

func (s *SQLStore) ReleaseTest(ctx context.Context, testID string, now int64) (int64, error) {
	var affected int64
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tests SET results_released=1, results_release_date=$1 WHERE id=$2`, now, testID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("test %s: %w", testID, ErrNotFound)
		}
		res, err = tx.ExecContext(ctx, `UPDATE attempts SET status='graded' WHERE test_id=$1 AND status='submitted'`, testID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (s *SQLStore) ReleaseAttempt(ctx context.Context, attemptID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET status='graded' WHERE id=$1 AND status='submitted'`, attemptID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %s not found or not awaiting release: %w", attemptID, ErrConflict)
	}
	return nil
}
