// Package sweep removes expired YouTube credentials on a fixed interval,
// independently of the job orchestrator.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/lecture-pipeline/internal/pipeline/repository"
)

type Sweeper struct {
	credentials repository.CredentialRepository
	logger      zerolog.Logger

	clock func() time.Time
}

func New(credentials repository.CredentialRepository, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		credentials: credentials,
		logger:      logger.With().Str("component", "credential_sweeper").Logger(),
		clock:       time.Now,
	}
}

// Start sweeps immediately, then on every tick until the context is
// cancelled. Sweep errors are logged and do not stop the loop.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("sweeper started")

	if err := s.Sweep(ctx); err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Err(ctx.Err()).Msg("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) error {
	deleted, err := s.credentials.DeleteExpired(ctx, s.clock())
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("expired credentials removed")
	}
	return nil
}
