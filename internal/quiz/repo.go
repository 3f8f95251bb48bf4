package quiz

import "context"

// Store is the persistence port for tests, attempts and answers. Every
// attempt mutation is a conditional update on the attempt's status.
type Store interface {
	PutTest(ctx context.Context, t Test) error
	GetTest(ctx context.Context, id string) (Test, error) // full test, answer key included

	StartAttempt(ctx context.Context, testID, userID string, now int64) (Attempt, error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	ListAnswers(ctx context.Context, attemptID string) ([]Answer, error)

	// UpsertAnswer fails with ErrConflict once the attempt left in_progress.
	UpsertAnswer(ctx context.Context, a Answer) error
	// MarkSubmitted reports false when the attempt was not in_progress.
	MarkSubmitted(ctx context.Context, attemptID string, now int64) (bool, error)
	SaveScore(ctx context.Context, w ScoreWrite) error
	SetManualPoints(ctx context.Context, attemptID, questionID string, points float64, now int64) error

	ReleaseTest(ctx context.Context, testID string, now int64) (int64, error)
	ReleaseAttempt(ctx context.Context, attemptID string) error

	Dashboard(ctx context.Context) (Dashboard, error)
	TestStats(ctx context.Context) ([]TestStats, error)
	Leaderboard(ctx context.Context, opts LeaderboardOpts) ([]LeaderboardEntry, error)

	Ping(ctx context.Context) error
}
