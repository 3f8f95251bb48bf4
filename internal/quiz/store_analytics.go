package quiz

import (
	"context"
	"database/sql"
	"fmt"
)

// Dashboard fills the counters; recent attempts come from ListAttempts.
func (s *SQLStore) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	err := s.db.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM tests),
			(SELECT COUNT(*) FROM attempts),
			(SELECT COUNT(DISTINCT user_id) FROM attempts),
			(SELECT COALESCE(AVG(percentage),0) FROM attempts WHERE scored_at IS NOT NULL)`).
		Scan(&d.TotalTests, &d.TotalAttempts, &d.TotalUsers, &d.AvgPercentage)
	return d, err
}

func (s *SQLStore) TestStats(ctx context.Context) ([]TestStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, COUNT(a.id), COUNT(a.scored_at),
		       COALESCE(SUM(CASE WHEN a.scored_at IS NOT NULL AND a.passed=1 THEN 1 ELSE 0 END),0),
		       COALESCE(AVG(CASE WHEN a.scored_at IS NOT NULL THEN a.percentage END),0),
		       COALESCE(MAX(CASE WHEN a.scored_at IS NOT NULL THEN a.percentage END),0)
		FROM tests t LEFT JOIN attempts a ON a.test_id=t.id
		GROUP BY t.id, t.title
		ORDER BY t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []TestStats{}
	for rows.Next() {
		var st TestStats
		if err := rows.Scan(&st.TestID, &st.Title, &st.Attempts, &st.Scored, &st.Passed,
			&st.AvgPercentage, &st.BestPercentage); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Leaderboard keeps each user's highest score; ties go to the attempt
// scored first.
func (s *SQLStore) Leaderboard(ctx context.Context, opts LeaderboardOpts) ([]LeaderboardEntry, error) {
	filter := ""
	if opts.GradedOnly {
		filter = " AND status='graded'"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT user_id, id, score, max_score, percentage, passed, scored_at FROM (
			SELECT user_id, id, score, max_score, percentage, passed, scored_at,
			       ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY score DESC, scored_at, id) AS rn
			FROM attempts
			WHERE test_id=$1 AND scored_at IS NOT NULL%s
		) ranked
		WHERE rn=1
		ORDER BY score DESC, scored_at, user_id
		LIMIT %d`, filter, limit), opts.TestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []LeaderboardEntry{}
	for rows.Next() {
		var (
			e      LeaderboardEntry
			passed sql.NullBool
		)
		if err := rows.Scan(&e.UserID, &e.AttemptID, &e.BestScore, &e.MaxScore, &e.Percentage, &passed, &e.ScoredAt); err != nil {
			return nil, err
		}
		e.Passed = passed.Bool
		out = append(out, e)
	}
	return out, rows.Err()
}
