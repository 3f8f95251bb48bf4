// Package app holds the fx providers shared by the gateway, the grading
// daemon and quizctl.
package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"github.com/mind-engage/mindengage-quiz/internal/cache"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/db"
	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
	"github.com/mind-engage/mindengage-quiz/internal/queue"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/release"
	"github.com/mind-engage/mindengage-quiz/internal/scoring"
)

// Core is the storage and scoring graph every binary starts from.
var Core = fx.Options(
	fx.Provide(
		config.FromEnv,
		OpenDB,
		OpenCache,
		eventlog.NewRepo,
		quiz.NewSQLStore,
		NewScorer,
		NewQueue,
		NewDispatcher,
		NewService,
		NewWorker,
		NewGate,
	),
)

func OpenDB(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := db.Open(ctx, driver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return conn.Close() },
	})
	return conn, nil
}

// OpenCache connects to Redis when REDIS_URL is set. An unreachable Redis
// leaves the cache disabled rather than failing startup.
func OpenCache(lc fx.Lifecycle, cfg config.Config) *cache.Cache {
	rdb, err := cache.Connect(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable; test cache disabled")
	}
	c := cache.New(rdb, "quiz:")
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return c.Close() },
	})
	return c
}

func NewScorer(store *quiz.SQLStore, events *eventlog.Repo, cfg config.Config) *scoring.Scorer {
	return scoring.New(store,
		scoring.WithPenaltyFraction(cfg.NegativeMarkingFraction),
		scoring.WithEvents(events),
	)
}

func NewQueue(conn *sql.DB, cfg config.Config) *queue.Queue {
	return queue.New(conn, queue.Options{
		MaxAttempts:        cfg.Queue.MaxAttempts,
		BackoffBase:        cfg.Queue.BackoffBase,
		LockTTL:            cfg.Queue.LockTTL,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
	})
}

// NewDispatcher picks the submit path for GRADING_MODE.
func NewDispatcher(cfg config.Config, q *queue.Queue, s *scoring.Scorer) quiz.Dispatcher {
	if cfg.GradingMode == config.GradingSync {
		return scoring.NewInline(s)
	}
	return queue.NewDispatcher(q)
}

func NewService(store *quiz.SQLStore, d quiz.Dispatcher, events *eventlog.Repo) *quiz.Service {
	return quiz.NewService(store, d, events)
}

func NewGate(store *quiz.SQLStore, c *cache.Cache, events *eventlog.Repo, cfg config.Config) *release.Gate {
	return release.NewGate(store, c, cfg.TestCacheTTL, events)
}

func NewWorker(q *queue.Queue, s *scoring.Scorer, cfg config.Config) (*queue.Worker, error) {
	return queue.NewWorker(q, queue.ScoringHandler(s), queue.WorkerOptions{
		Concurrency:  cfg.Queue.Concurrency,
		RatePerSec:   cfg.Queue.RatePerSec,
		JobTimeout:   cfg.Queue.JobTimeout,
		PollInterval: cfg.Queue.PollInterval,
	})
}

// RunWorker ties the worker loop to the fx lifecycle. Stop cancels polling
// and waits for jobs already running.
func RunWorker(lc fx.Lifecycle, w *queue.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := w.Run(ctx); err != nil {
					log.Error().Err(err).Msg("grading worker exited")
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
