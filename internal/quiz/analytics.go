package quiz

import (
	"context"
	"fmt"
	"math"
)

// Dashboard is the admin overview across every test.
type Dashboard struct {
	TotalTests     int       `json:"total_tests"`
	TotalAttempts  int       `json:"total_attempts"`
	TotalUsers     int       `json:"total_users"`     // distinct users with at least one attempt
	AvgPercentage  float64   `json:"avg_percentage"`  // over scored attempts
	RecentAttempts []Attempt `json:"recent_attempts"` // newest first
}

// TestStats aggregates the attempts of one test. Averages and the best
// percentage only count scored attempts.
type TestStats struct {
	TestID         string  `json:"test_id"`
	Title          string  `json:"title"`
	Attempts       int     `json:"attempts"`
	Scored         int     `json:"scored"`
	Passed         int     `json:"passed"`
	PassRate       float64 `json:"pass_rate"`
	AvgPercentage  float64 `json:"avg_percentage"`
	BestPercentage float64 `json:"best_percentage"`
}

// LeaderboardEntry is a user's best scored attempt on a test.
type LeaderboardEntry struct {
	Rank       int     `json:"rank"`
	UserID     string  `json:"user_id"`
	AttemptID  string  `json:"attempt_id"`
	BestScore  float64 `json:"best_score"`
	MaxScore   float64 `json:"max_score"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
	ScoredAt   int64   `json:"scored_at"`
}

type LeaderboardOpts struct {
	TestID string
	// GradedOnly restricts the board to attempts whose results are out.
	GradedOnly bool
	Limit      int
}

const recentAttempts = 10

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	d, err := s.store.Dashboard(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}
	d.AvgPercentage = round2(d.AvgPercentage)
	if d.RecentAttempts, err = s.store.ListAttempts(ctx, AttemptListOpts{Limit: recentAttempts}); err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}
	return d, nil
}

func (s *Service) TestStats(ctx context.Context) ([]TestStats, error) {
	stats, err := s.store.TestStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("test stats: %w", err)
	}
	for i := range stats {
		st := &stats[i]
		st.AvgPercentage = round2(st.AvgPercentage)
		st.BestPercentage = round2(st.BestPercentage)
		if st.Scored > 0 {
			st.PassRate = round2(float64(st.Passed) / float64(st.Scored) * 100)
		}
	}
	return stats, nil
}

// Leaderboard ranks users by their best score on a test. Non-admins only
// see published tests and only attempts whose results have been released,
// so the board never leaks a score the attempt view would withhold.
func (s *Service) Leaderboard(ctx context.Context, testID string, admin bool, limit int) ([]LeaderboardEntry, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !admin && t.Status != TestPublished {
		return nil, fmt.Errorf("test %s: %w", testID, ErrNotFound)
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	list, err := s.store.Leaderboard(ctx, LeaderboardOpts{TestID: testID, GradedOnly: !admin, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("leaderboard %s: %w", testID, err)
	}
	for i := range list {
		list[i].Rank = i + 1
	}
	return list, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
