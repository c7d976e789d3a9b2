// Package scheduler periodically enumerates active connections and enqueues
// incremental syncs for them.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/orchestrator"
)

// ConnectionLister lists the connections eligible for a scheduled sync
type ConnectionLister interface {
	ListActive(ctx context.Context) ([]models.Connection, error)
}

// Enqueuer enqueues connection-scoped sync jobs
type Enqueuer interface {
	EnqueueConnectionSync(ctx context.Context, conn *models.Connection, fullHistory bool) (*models.SyncJob, error)
}

type Scheduler struct {
	interval time.Duration
	conns    ConnectionLister
	enqueuer Enqueuer
	log      zerolog.Logger
}

func New(interval time.Duration, conns ConnectionLister, enqueuer Enqueuer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		conns:    conns,
		enqueuer: enqueuer,
		log:      log,
	}
}

// Start runs the periodic enumeration until the context is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("Starting sync scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce enqueues an incremental sync for every active connection that does
// not already have a live job.
func (s *Scheduler) runOnce(ctx context.Context) {
	conns, err := s.conns.ListActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list active connections")
		return
	}

	enqueued := 0
	for i := range conns {
		conn := conns[i]
		_, err := s.enqueuer.EnqueueConnectionSync(ctx, &conn, false)
		if err != nil {
			if errors.Is(err, orchestrator.ErrSyncAlreadyQueued) {
				continue
			}
			s.log.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to enqueue scheduled sync")
			continue
		}
		enqueued++
	}

	s.log.Info().
		Int("active_connections", len(conns)).
		Int("enqueued", enqueued).
		Msg("Scheduled sync tick complete")
}
