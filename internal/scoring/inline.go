package scoring

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

// Inline scores during the request. Scoring failures are logged and leave
// the attempt submitted; an admin rescore picks it up again.
type Inline struct {
	scorer *Scorer
}

func NewInline(s *Scorer) *Inline { return &Inline{scorer: s} }

func (d *Inline) Dispatch(ctx context.Context, req quiz.GradeRequest) (bool, error) {
	out, err := d.scorer.ScoreAttempt(ctx, req.AttemptID)
	if err != nil {
		log.Error().Err(err).Str("attempt_id", req.AttemptID).Msg("inline scoring failed")
		return false, nil
	}
	log.Info().Str("attempt_id", req.AttemptID).Float64("score", out.Score).
		Float64("max_score", out.MaxScore).Str("status", string(out.Status)).Msg("attempt scored")
	return false, nil
}

func (d *Inline) Redispatch(ctx context.Context, req quiz.GradeRequest) (bool, error) {
	_, err := d.scorer.ScoreAttempt(ctx, req.AttemptID)
	return false, err
}
