package release

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mind-engage/mindengage-quiz/internal/cache"
	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

// Decide returns the status a freshly scored attempt should land in.
// pendingManual reports a non-empty text answer nobody has graded yet; it
// only holds results back on tests in manual grading mode.
func Decide(t quiz.Test, pendingManual bool) quiz.Status {
	if !t.ResultsReleased {
		return quiz.StatusSubmitted
	}
	if t.GradingMode == quiz.GradingManual && pendingManual {
		return quiz.StatusSubmitted
	}
	return quiz.StatusGraded
}

// Store is the slice of quiz.Store the gate needs.
type Store interface {
	GetTest(ctx context.Context, id string) (quiz.Test, error)
	GetAttempt(ctx context.Context, id string) (quiz.Attempt, error)
	ReleaseTest(ctx context.Context, testID string, now int64) (int64, error)
	ReleaseAttempt(ctx context.Context, attemptID string) error
}

// Gate owns the results-release policy: the instructor actions that move
// attempts to graded and the cached test settings views are masked with.
type Gate struct {
	store  Store
	cache  *cache.Cache
	ttl    time.Duration
	events quiz.Events
	now    func() time.Time
}

func NewGate(store Store, c *cache.Cache, ttl time.Duration, ev quiz.Events) *Gate {
	return &Gate{store: store, cache: c, ttl: ttl, events: ev, now: time.Now}
}

func testKey(id string) string { return "test:" + id }

// Test returns the full test (answer key included) through the cache.
func (g *Gate) Test(ctx context.Context, id string) (quiz.Test, error) {
	var t quiz.Test
	err := g.cache.GetOrLoad(ctx, testKey(id), &t, g.ttl, func() (any, error) {
		return g.store.GetTest(ctx, id)
	})
	return t, err
}

// Forget drops the cached copy after the test changed.
func (g *Gate) Forget(ctx context.Context, testID string) {
	g.cache.Invalidate(ctx, testKey(testID))
}

// ReleaseTest opens results for the whole test and moves every submitted
// attempt to graded.
func (g *Gate) ReleaseTest(ctx context.Context, testID, actor string) (int64, error) {
	n, err := g.store.ReleaseTest(ctx, testID, g.now().Unix())
	if err != nil {
		return 0, err
	}
	g.Forget(ctx, testID)
	g.emit(ctx, eventlog.ResultsReleased, testID, actor, map[string]any{"affected_attempts": n})
	log.Info().Str("test_id", testID).Int64("affected", n).Str("actor", actor).Msg("results released")
	return n, nil
}

// ReleaseAttempt moves a single submitted attempt to graded.
func (g *Gate) ReleaseAttempt(ctx context.Context, attemptID, actor string) (quiz.Attempt, error) {
	if err := g.store.ReleaseAttempt(ctx, attemptID); err != nil {
		return quiz.Attempt{}, err
	}
	g.emit(ctx, eventlog.AttemptReleased, attemptID, actor, nil)
	return g.store.GetAttempt(ctx, attemptID)
}

func (g *Gate) emit(ctx context.Context, typ, key, actor string, data any) {
	if g.events == nil {
		return
	}
	if err := g.events.Append(ctx, typ, key, actor, data); err != nil {
		log.Warn().Err(err).Str("event", typ).Str("key", key).Msg("event append failed")
	}
}
