// Package queue is a durable grading job queue stored in the main database.
// One row per attempt; the row id doubles as the dedup key.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/db"
)

type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost means the job was reclaimed after this run's lock
	// expired; the run's outcome is discarded.
	ErrLeaseLost = errors.New("job lease lost")
)

// JobData is the whole payload. Workers re-read everything else.
type JobData struct {
	AttemptID string `json:"attemptId"`
	UserID    string `json:"userId"`
	TestID    string `json:"testId"`
}

type Job struct {
	ID           string
	Data         JobData
	State        State
	AttemptsMade int
	MaxAttempts  int
	Lease        int64 // bumped on every claim; fences writes from stale runs
	Progress     int
	Result       json.RawMessage
	FailedReason string
	RunAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

// Status is what pollers see.
type Status struct {
	JobID        string          `json:"jobId"`
	AttemptID    string          `json:"attemptId"`
	State        State           `json:"state"`
	Progress     int             `json:"progress"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func JobID(attemptID string) string { return "grade-" + attemptID }

type Options struct {
	MaxAttempts        int
	BackoffBase        time.Duration
	LockTTL            time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = 24 * time.Hour
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 7 * 24 * time.Hour
	}
	return o
}

type Queue struct {
	db   *sql.DB
	opts Options
	now  func() time.Time
	wake chan struct{}
}

func New(conn *sql.DB, opts Options) *Queue {
	return &Queue{db: conn, opts: opts.withDefaults(), now: time.Now, wake: make(chan struct{}, 1)}
}

// LockTTL is how long a claim holds a job before RecoverStalled may hand it
// to another worker.
func (q *Queue) LockTTL() time.Duration { return q.opts.LockTTL }

// Wake fires after an enqueue so idle workers skip the poll wait.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue admits a job for the attempt. If any retained job exists for it
// the call changes nothing and returns that job with created=false.
func (q *Queue) Enqueue(ctx context.Context, d JobData) (Job, bool, error) {
	if d.AttemptID == "" {
		return Job{}, false, errors.New("queue: attempt id is required")
	}
	now := q.now().UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO grading_jobs (id, attempt_id, user_id, test_id, state, max_attempts, run_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7,$7)
		ON CONFLICT(id) DO NOTHING`,
		JobID(d.AttemptID), d.AttemptID, d.UserID, d.TestID, StateQueued, q.opts.MaxAttempts, now)
	if err != nil {
		return Job{}, false, fmt.Errorf("queue: enqueue: %w", err)
	}
	n, _ := res.RowsAffected()
	j, err := q.Get(ctx, JobID(d.AttemptID))
	if err != nil {
		return Job{}, false, err
	}
	if n > 0 {
		q.signal()
	}
	return j, n > 0, nil
}

// Requeue asks for one more scoring pass. Finished jobs are re-armed with a
// fresh retry budget, a running job is flagged to run again when it
// completes, and a queued job is left alone.
func (q *Queue) Requeue(ctx context.Context, d JobData) (Job, error) {
	j, created, err := q.Enqueue(ctx, d)
	if err != nil || created {
		return j, err
	}
	now := q.now().UnixMilli()
	switch j.State {
	case StateCompleted, StateFailed:
		_, err = q.db.ExecContext(ctx, `
			UPDATE grading_jobs
			SET state=$1, attempts_made=0, progress=0, result_json='', failed_reason='',
			    rerun=0, run_at=$2, locked_until=NULL, finished_at=NULL, updated_at=$2
			WHERE id=$3 AND state IN ($4,$5)`,
			StateQueued, now, j.ID, StateCompleted, StateFailed)
	case StateActive:
		_, err = q.db.ExecContext(ctx,
			`UPDATE grading_jobs SET rerun=1, updated_at=$1 WHERE id=$2 AND state=$3`,
			now, j.ID, StateActive)
	}
	if err != nil {
		return Job{}, fmt.Errorf("queue: requeue: %w", err)
	}
	q.signal()
	return q.Get(ctx, j.ID)
}

// Claim takes the oldest due job. The queued→active transition is a
// conditional update, so two workers never run the same job. Returns
// ErrJobNotFound when nothing is due.
func (q *Queue) Claim(ctx context.Context) (Job, error) {
	for i := 0; i < 5; i++ {
		now := q.now().UnixMilli()
		var (
			id    string
			lease int64
		)
		err := q.db.QueryRowContext(ctx,
			`SELECT id, lease FROM grading_jobs WHERE state=$1 AND run_at <= $2 ORDER BY run_at, created_at LIMIT 1`,
			StateQueued, now).Scan(&id, &lease)
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		if err != nil {
			return Job{}, fmt.Errorf("queue: claim: %w", err)
		}
		res, err := q.db.ExecContext(ctx, `
			UPDATE grading_jobs
			SET state=$1, attempts_made=attempts_made+1, lease=lease+1, locked_until=$2, updated_at=$3
			WHERE id=$4 AND state=$5 AND lease=$6`,
			StateActive, now+q.opts.LockTTL.Milliseconds(), now, id, StateQueued, lease)
		if err != nil {
			return Job{}, fmt.Errorf("queue: claim: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			j, err := q.Get(ctx, id)
			if err != nil {
				return Job{}, err
			}
			j.Lease = lease + 1
			return j, nil
		}
		// another worker won; look again
	}
	return Job{}, ErrJobNotFound
}

func (q *Queue) UpdateProgress(ctx context.Context, j Job, progress int) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE grading_jobs SET progress=$1, updated_at=$2 WHERE id=$3 AND state=$4 AND lease=$5`,
		max(0, min(progress, 100)), q.now().UnixMilli(), j.ID, StateActive, j.Lease)
	if err != nil {
		return err
	}
	return leaseHeld(res, j.ID)
}

// leaseHeld turns a fenced update that matched nothing into ErrLeaseLost.
func leaseHeld(res sql.Result, id string) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue: %s: %w", id, ErrLeaseLost)
	}
	return nil
}

// Complete records the handler's result for the claim j came from. A job
// flagged by Requeue while it ran goes back to the queue instead.
func (q *Queue) Complete(ctx context.Context, j Job, result any) error {
	buf, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("queue: encode result: %w", err)
	}
	now := q.now().UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		UPDATE grading_jobs
		SET state=$1, attempts_made=0, progress=0, rerun=0, result_json=$2, run_at=$3, locked_until=NULL, updated_at=$3
		WHERE id=$4 AND state=$5 AND lease=$6 AND rerun=1`,
		StateQueued, string(buf), now, j.ID, StateActive, j.Lease)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		q.signal()
		return nil
	}
	res, err = q.db.ExecContext(ctx, `
		UPDATE grading_jobs
		SET state=$1, progress=100, result_json=$2, failed_reason='', locked_until=NULL, finished_at=$3, updated_at=$3
		WHERE id=$4 AND state=$5 AND lease=$6`,
		StateCompleted, string(buf), now, j.ID, StateActive, j.Lease)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return leaseHeld(res, j.ID)
}

// Fail records a failed run. The job is retried after an exponential
// backoff unless the error is permanent or the retry budget is spent.
// It reports whether the job is now terminally failed.
func (q *Queue) Fail(ctx context.Context, j Job, cause error, permanent bool) (bool, error) {
	now := q.now()
	reason := cause.Error()
	if permanent || j.AttemptsMade >= j.MaxAttempts {
		res, err := q.db.ExecContext(ctx, `
			UPDATE grading_jobs
			SET state=$1, failed_reason=$2, rerun=0, locked_until=NULL, finished_at=$3, updated_at=$3
			WHERE id=$4 AND state=$5 AND lease=$6`,
			StateFailed, reason, now.UnixMilli(), j.ID, StateActive, j.Lease)
		if err != nil {
			return false, fmt.Errorf("queue: fail: %w", err)
		}
		return true, leaseHeld(res, j.ID)
	}
	runAt := now.Add(q.Backoff(j.AttemptsMade))
	res, err := q.db.ExecContext(ctx, `
		UPDATE grading_jobs
		SET state=$1, failed_reason=$2, run_at=$3, locked_until=NULL, updated_at=$4
		WHERE id=$5 AND state=$6 AND lease=$7`,
		StateQueued, reason, runAt.UnixMilli(), now.UnixMilli(), j.ID, StateActive, j.Lease)
	if err != nil {
		return false, fmt.Errorf("queue: fail: %w", err)
	}
	return false, leaseHeld(res, j.ID)
}

// Backoff is the wait after the n-th failed run: base, 2·base, 4·base…
func (q *Queue) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return q.opts.BackoffBase << min(n-1, 16)
}

// RecoverStalled returns active jobs whose lock expired (a crashed or hung
// worker) to the queue, or fails them once their retry budget is spent.
func (q *Queue) RecoverStalled(ctx context.Context) (int64, error) {
	now := q.now().UnixMilli()
	var total int64
	err := db.WithTx(ctx, q.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE grading_jobs
			SET state=$1, failed_reason='stalled: lock expired', locked_until=NULL, finished_at=$2, updated_at=$2
			WHERE state=$3 AND locked_until < $2 AND attempts_made >= max_attempts`,
			StateFailed, now, StateActive)
		if err != nil {
			return err
		}
		n1, _ := res.RowsAffected()
		res, err = tx.ExecContext(ctx, `
			UPDATE grading_jobs
			SET state=$1, failed_reason='stalled: lock expired', run_at=$2, locked_until=NULL, updated_at=$2
			WHERE state=$3 AND locked_until < $2`,
			StateQueued, now, StateActive)
		if err != nil {
			return err
		}
		n2, _ := res.RowsAffected()
		total = n1 + n2
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue: recover stalled: %w", err)
	}
	if total > 0 {
		q.signal()
	}
	return total, nil
}

// Purge deletes finished jobs past their retention window.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM grading_jobs
		WHERE (state=$1 AND finished_at < $2) OR (state=$3 AND finished_at < $4)`,
		StateCompleted, now.Add(-q.opts.CompletedRetention).UnixMilli(),
		StateFailed, now.Add(-q.opts.FailedRetention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("queue: purge: %w", err)
	}
	return res.RowsAffected()
}

func (q *Queue) Get(ctx context.Context, id string) (Job, error) {
	var (
		j                       Job
		result                  string
		runAt, created, updated int64
		finished                sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, attempt_id, user_id, test_id, state, attempts_made, max_attempts, lease, progress,
		       result_json, failed_reason, run_at, created_at, updated_at, finished_at
		FROM grading_jobs WHERE id=$1`, id).Scan(
		&j.ID, &j.Data.AttemptID, &j.Data.UserID, &j.Data.TestID, &j.State, &j.AttemptsMade, &j.MaxAttempts,
		&j.Lease, &j.Progress, &result, &j.FailedReason, &runAt, &created, &updated, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("queue: get %s: %w", id, err)
	}
	if result != "" {
		j.Result = json.RawMessage(result)
	}
	j.RunAt = time.UnixMilli(runAt)
	j.CreatedAt = time.UnixMilli(created)
	j.UpdatedAt = time.UnixMilli(updated)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		j.FinishedAt = &t
	}
	return j, nil
}

func (q *Queue) GetStatus(ctx context.Context, attemptID string) (Status, error) {
	j, err := q.Get(ctx, JobID(attemptID))
	if err != nil {
		return Status{}, err
	}
	return Status{
		JobID:        j.ID,
		AttemptID:    j.Data.AttemptID,
		State:        j.State,
		Progress:     j.Progress,
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		Result:       j.Result,
		FailedReason: j.FailedReason,
		UpdatedAt:    j.UpdatedAt,
	}, nil
}
