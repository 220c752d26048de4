package game

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/protocol"
)

// roundFunc produces the announcement for round n. An empty string announces nothing.
type roundFunc func(ctx context.Context, n int) (string, error)

// playRounds runs rounds timed rounds over r, checking ctx and the roster at
// every round boundary and while waiting out a round.
//
// Postcondition: Returns nil after the last round, ctx.Err() on cancellation,
// ErrAbandoned when the roster empties, or the first error from next.
func playRounds(ctx context.Context, logger *zap.Logger, r *roster, rounds int, roundDuration time.Duration, next roundFunc) error {
	for n := 1; n <= rounds; n++ {
		if err := ctx.Err(); err != nil {
			logger.Info("game cancelled", zap.Int("round", n))
			return err
		}
		if r.count() == 0 {
			logger.Info("game abandoned", zap.Int("round", n))
			return ErrAbandoned
		}

		logger.Info("game round",
			zap.Int("round", n),
			zap.Int("rounds", rounds),
			zap.Int("players", r.count()),
		)
		msg, err := next(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("game cancelled", zap.Int("round", n))
				return ctx.Err()
			}
			return err
		}
		if msg != "" {
			r.broadcast(protocol.New(protocol.CommandRound, msg))
		}

		timer := time.NewTimer(roundDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("game cancelled", zap.Int("round", n))
			return ctx.Err()
		case <-timer.C:
		}
	}
	logger.Info("game completed", zap.Int("rounds", rounds))
	return nil
}
