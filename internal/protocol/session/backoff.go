package session

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based). With
// jitter the delay is scaled by a factor in [0.5, 1.5).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	return time.Duration(delay)
}

// Retry calls fn up to attempts times, sleeping NextBackoffDelay between
// failures. It returns nil on the first success, otherwise every attempt
// error combined. ctx cancellation stops the loop early.
func Retry(ctx context.Context, cfg BackoffConfig, attempts int, rng *rand.Rand, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var errs error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		if attempt == attempts {
			break
		}
		delay := NextBackoffDelay(cfg, attempt, rng)
		log.Debug().Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("session.Retry backing off")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return multierr.Append(errs, ctx.Err())
		case <-timer.C:
		}
	}
	return errs
}
