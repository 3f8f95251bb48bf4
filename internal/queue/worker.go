package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Handler runs one job. The returned value is stored as the job result.
type Handler func(ctx context.Context, j Job, progress func(int)) (any, error)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err so the job fails at once instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type WorkerOptions struct {
	Concurrency         int
	RatePerSec          float64
	JobTimeout          time.Duration
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 50
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = 30 * time.Second
	}
	return o
}

// bookkeepingTimeout bounds recording a run's outcome after the handler
// returned.
const bookkeepingTimeout = 10 * time.Second

type Worker struct {
	q       *Queue
	handle  Handler
	opts    WorkerOptions
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewWorker fails when a run could outlive its claim: the job timeout plus
// the time to record the outcome must fit inside the queue's lock TTL, or
// stalled-job recovery would hand a running job to a second worker.
func NewWorker(q *Queue, h Handler, opts WorkerOptions) (*Worker, error) {
	opts = opts.withDefaults()
	if budget := opts.JobTimeout + bookkeepingTimeout; budget >= q.LockTTL() {
		return nil, fmt.Errorf("queue: job timeout %s plus %s bookkeeping must be shorter than the lock TTL %s",
			opts.JobTimeout, bookkeepingTimeout, q.LockTTL())
	}
	return &Worker{
		q:       q,
		handle:  h,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), max(1, int(opts.RatePerSec))),
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
	}, nil
}

// Run claims and executes jobs until ctx is cancelled. On cancellation it
// stops claiming and returns once the jobs already running have finished.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Int("concurrency", w.opts.Concurrency).Float64("rate_per_sec", w.opts.RatePerSec).
		Dur("job_timeout", w.opts.JobTimeout).Msg("grading worker started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.poll(gctx) })
	g.Go(func() error { return w.maintain(gctx) })
	err := g.Wait()
	log.Info().Msg("grading worker stopped")
	return err
}

// ProcessNext claims one due job and runs it inline. It reports false when
// nothing was due.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	j, err := w.q.Claim(ctx)
	if errors.Is(err, ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	w.run(j)
	return true, nil
}

func (w *Worker) poll(ctx context.Context) error {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		for ctx.Err() == nil {
			if err := w.sem.Acquire(ctx, 1); err != nil {
				break
			}
			if err := w.limiter.Wait(ctx); err != nil {
				w.sem.Release(1)
				break
			}
			j, err := w.q.Claim(ctx)
			if err != nil {
				w.sem.Release(1)
				if !errors.Is(err, ErrJobNotFound) && ctx.Err() == nil {
					log.Error().Err(err).Msg("claim failed")
				}
				break
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer w.sem.Release(1)
				w.run(j)
			}()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.q.Wake():
		}
	}
}

func (w *Worker) maintain(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		w.housekeep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) housekeep(ctx context.Context) {
	if n, err := w.q.RecoverStalled(ctx); err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("stalled job recovery failed")
		}
	} else if n > 0 {
		log.Warn().Int64("jobs", n).Msg("recovered stalled jobs")
	}
	if n, err := w.q.Purge(ctx); err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("job purge failed")
		}
	} else if n > 0 {
		log.Debug().Int64("jobs", n).Msg("purged expired jobs")
	}
}

func (w *Worker) run(j Job) {
	// not derived from the poll context: shutdown waits for running jobs
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.JobTimeout)
	defer cancel()

	l := log.With().Str("job_id", j.ID).Str("attempt_id", j.Data.AttemptID).Int("attempt", j.AttemptsMade).Logger()
	l.Debug().Msg("job started")
	start := time.Now()

	progress := func(p int) {
		if err := w.q.UpdateProgress(ctx, j, p); err != nil {
			l.Warn().Err(err).Int("progress", p).Msg("progress update failed")
		}
	}
	result, err := w.safeHandle(ctx, j, progress)

	// the job context may have expired; bookkeeping gets its own
	bctx, bcancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer bcancel()

	if err != nil {
		w.fail(bctx, l, j, err)
		return
	}
	if err := w.q.Complete(bctx, j, result); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			l.Warn().Msg("job was reclaimed while running; result discarded")
			return
		}
		l.Error().Err(err).Msg("job completion not recorded")
		return
	}
	l.Info().Dur("took", time.Since(start)).Msg("job completed")
}

func (w *Worker) safeHandle(ctx context.Context, j Job, progress func(int)) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("job_id", j.ID).Msg("job handler panicked")
			err = Permanent(errors.New("handler panic"))
		}
	}()
	return w.handle(ctx, j, progress)
}

func (w *Worker) fail(ctx context.Context, l zerolog.Logger, j Job, cause error) {
	terminal, err := w.q.Fail(ctx, j, cause, IsPermanent(cause))
	if errors.Is(err, ErrLeaseLost) {
		l.Warn().AnErr("cause", cause).Msg("job was reclaimed while running; failure discarded")
		return
	}
	if err != nil {
		l.Error().Err(err).AnErr("cause", cause).Msg("job failure not recorded")
		return
	}
	if terminal {
		l.Error().Err(cause).Msg("job failed")
		return
	}
	l.Warn().Err(cause).Dur("retry_in", w.q.Backoff(j.AttemptsMade)).Msg("job failed; will retry")
}
