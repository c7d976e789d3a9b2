// Package orchestrator runs the fan-out sync pipeline: connection-scoped jobs
// expand into per-account jobs, each bounded by a concurrency limit and
// retried independently with exponential backoff.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bankline-io/bankline-worker/internal/config"
	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/notify"
	"github.com/bankline-io/bankline-worker/internal/provider"
)

// ErrSyncAlreadyQueued is returned when a connection already has a live job
var ErrSyncAlreadyQueued = errors.New("sync already queued for connection")

// ConnectionStore is the connection persistence surface the orchestrator needs
type ConnectionStore interface {
	GetByID(ctx context.Context, connectionID string) (*models.Connection, error)
	UpdateStatus(ctx context.Context, connectionID string, status models.ConnectionStatus) error
	UpdateTokens(ctx context.Context, connectionID string, accessToken, refreshToken string, expiresAt time.Time) error
	TouchLastSynced(ctx context.Context, connectionID string, at time.Time) error
}

// AccountStore is the account persistence surface the orchestrator needs
type AccountStore interface {
	UpsertAccounts(ctx context.Context, accounts []models.Account) error
	ListByConnection(ctx context.Context, connectionID string) ([]models.Account, error)
}

// TransactionStore is the persistence gateway surface the orchestrator needs
type TransactionStore interface {
	UpsertTransactions(ctx context.Context, accountID string, txns []models.Transaction) (int, error)
}

// JobStore is the sync job persistence surface the orchestrator needs
type JobStore interface {
	Create(ctx context.Context, job *models.SyncJob) error
	GetDue(ctx context.Context, limit int) ([]models.SyncJob, error)
	HasLiveJob(ctx context.Context, connectionID string) (bool, error)
	Claim(ctx context.Context, jobID string) (bool, error)
	MarkRunning(ctx context.Context, jobID string) error
	MarkSucceeded(ctx context.Context, jobID string, newTransactions int) error
	MarkRetry(ctx context.Context, jobID string, lastError string, nextRunAt time.Time) error
	MarkTerminal(ctx context.Context, jobID string, lastError string) error
}

type Orchestrator struct {
	cfg      *config.Config
	registry *provider.Registry
	conns    ConnectionStore
	accounts AccountStore
	txns     TransactionStore
	jobs     JobStore
	emitter  notify.Emitter
	log      zerolog.Logger
}

func New(
	cfg *config.Config,
	registry *provider.Registry,
	conns ConnectionStore,
	accounts AccountStore,
	txns TransactionStore,
	jobs JobStore,
	emitter notify.Emitter,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		conns:    conns,
		accounts: accounts,
		txns:     txns,
		jobs:     jobs,
		emitter:  emitter,
		log:      log,
	}
}

// EnqueueConnectionSync creates a queued connection-scoped job, unless the
// connection already has one live.
func (o *Orchestrator) EnqueueConnectionSync(ctx context.Context, conn *models.Connection, fullHistory bool) (*models.SyncJob, error) {
	live, err := o.jobs.HasLiveJob(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	if live {
		return nil, ErrSyncAlreadyQueued
	}

	job := &models.SyncJob{
		ID:           uuid.New().String(),
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		Scope:        models.ScopeConnection,
		FullHistory:  fullHistory,
		State:        models.JobQueued,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("job_id", job.ID).
		Str("connection_id", conn.ID).
		Bool("full_history", fullHistory).
		Msg("Enqueued connection sync")
	return job, nil
}

// Start runs the worker loop: poll for due connection jobs, claim them, and
// execute on a pool bounded by the global concurrency cap.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.log.Info().
		Dur("poll_interval", o.cfg.PollInterval).
		Int("global_concurrency", o.cfg.GlobalConcurrency).
		Msg("Starting sync orchestrator")

	// Process anything already due from previous runs before the first tick.
	o.processDueJobs(ctx)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info().Msg("Orchestrator shutting down")
			return ctx.Err()
		case <-ticker.C:
			o.processDueJobs(ctx)
		}
	}
}

// processDueJobs claims and runs every due connection job
func (o *Orchestrator) processDueJobs(ctx context.Context) {
	jobs, err := o.jobs.GetDue(ctx, 50)
	if err != nil {
		o.log.Error().Err(err).Msg("Failed to query due jobs")
		return
	}
	if len(jobs) == 0 {
		return
	}

	o.log.Info().Int("count", len(jobs)).Msg("Processing due sync jobs")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.GlobalConcurrency)
	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			claimed, err := o.jobs.Claim(gctx, job.ID)
			if err != nil {
				o.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to claim job")
				return nil
			}
			if !claimed {
				return nil
			}
			o.runConnectionJob(gctx, &job)
			return nil
		})
	}
	_ = g.Wait()
}
