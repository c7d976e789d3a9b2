package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/normalize"
	"github.com/bankline-io/bankline-worker/internal/notify"
	"github.com/bankline-io/bankline-worker/internal/provider"
)

// tokenExpiryLeeway refreshes tokens that expire within this window
const tokenExpiryLeeway = 5 * time.Minute

// runConnectionJob executes one claimed connection-scoped job: refresh auth,
// fetch and upsert accounts, fan out one account job per account, aggregate,
// notify downstream. Sibling account failures never roll back each other's
// persisted transactions.
func (o *Orchestrator) runConnectionJob(ctx context.Context, job *models.SyncJob) {
	attempt := job.Attempts + 1 // Claim already incremented the stored counter
	log := o.log.With().
		Str("job_id", job.ID).
		Str("connection_id", job.ConnectionID).
		Int("attempt", attempt).
		Logger()

	conn, err := o.conns.GetByID(ctx, job.ConnectionID)
	if err != nil {
		log.Error().Err(err).Msg("Connection lookup failed")
		_ = o.jobs.MarkTerminal(ctx, job.ID, err.Error())
		return
	}

	adapter, err := o.registry.Get(conn.Provider)
	if err != nil {
		// Configuration error: no adapter for a persisted connection. Not
		// retryable.
		log.Error().Err(err).Str("provider", string(conn.Provider)).Msg("No adapter registered")
		_ = o.jobs.MarkTerminal(ctx, job.ID, err.Error())
		return
	}

	if err := o.ensureFreshToken(ctx, conn, adapter); err != nil {
		o.finishFailed(ctx, job, conn, attempt, err)
		return
	}

	// Fetch the provider's current account list.
	cctx, cancel := context.WithTimeout(ctx, o.cfg.ProviderCallTimeout)
	rawAccounts, err := adapter.FetchAccounts(cctx, conn)
	cancel()
	if err != nil {
		o.finishFailed(ctx, job, conn, attempt, err)
		return
	}

	accounts := make([]models.Account, 0, len(rawAccounts))
	for _, raw := range rawAccounts {
		acct, err := normalize.Account(raw, conn.ID, conn.TenantID)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping malformed account record")
			continue
		}
		accounts = append(accounts, acct)
	}

	if err := o.accounts.UpsertAccounts(ctx, accounts); err != nil {
		o.finishFailed(ctx, job, conn, attempt, err)
		return
	}

	// Re-read to get stable row IDs for accounts that already existed.
	stored, err := o.accounts.ListByConnection(ctx, conn.ID)
	if err != nil {
		o.finishFailed(ctx, job, conn, attempt, err)
		return
	}

	log.Info().Int("accounts", len(stored)).Msg("Fanning out account sync jobs")

	// Fan out: one independently retryable job per account, bounded per
	// connection. A failed sibling must not cancel the others, so child
	// errors are collected instead of propagated through the group.
	var (
		mu           sync.Mutex
		totalNew     int
		failed       int
		disconnected error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.AccountConcurrency)
	for i := range stored {
		account := stored[i]
		g.Go(func() error {
			n, err := o.runAccountJob(gctx, job, conn, adapter, account)
			mu.Lock()
			defer mu.Unlock()
			totalNew += n
			if err != nil {
				failed++
				if provider.Classify(err) == provider.KindDisconnected {
					disconnected = err
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if disconnected != nil {
		log.Warn().Err(disconnected).Msg("Provider requires re-authorization, disconnecting")
		_ = o.conns.UpdateStatus(ctx, conn.ID, models.ConnectionDisconnected)
		_ = o.jobs.MarkTerminal(ctx, job.ID, disconnected.Error())
		return
	}

	now := time.Now()
	if err := o.conns.TouchLastSynced(ctx, conn.ID, now); err != nil {
		log.Error().Err(err).Msg("Failed to update last_synced_at")
	}
	if err := o.jobs.MarkSucceeded(ctx, job.ID, totalNew); err != nil {
		log.Error().Err(err).Msg("Failed to mark job succeeded")
	}

	if o.emitter != nil {
		event := notify.ConnectionSynced{
			TenantID:        conn.TenantID,
			ConnectionID:    conn.ID,
			NewTransactions: totalNew,
		}
		if err := o.emitter.Emit(ctx, event); err != nil {
			log.Warn().Err(err).Msg("Failed to emit sync notification")
		}
	}

	log.Info().
		Int("new_transactions", totalNew).
		Int("failed_accounts", failed).
		Msg("Connection sync finished")
}

// finishFailed applies the retry policy to a failed connection-scoped job
func (o *Orchestrator) finishFailed(ctx context.Context, job *models.SyncJob, conn *models.Connection, attempt int, err error) {
	kind := provider.Classify(err)
	log := o.log.With().
		Str("job_id", job.ID).
		Str("connection_id", job.ConnectionID).
		Str("error_kind", string(kind)).
		Logger()

	switch kind {
	case provider.KindDisconnected:
		log.Warn().Err(err).Msg("Provider requires re-authorization, disconnecting")
		_ = o.conns.UpdateStatus(ctx, conn.ID, models.ConnectionDisconnected)
		_ = o.jobs.MarkTerminal(ctx, job.ID, err.Error())
	case provider.KindRateLimited, provider.KindTransient, provider.KindUnknown:
		if attempt >= o.cfg.MaxAttempts {
			log.Error().Err(err).Int("attempts", attempt).Msg("Sync failed terminally")
			_ = o.jobs.MarkTerminal(ctx, job.ID, err.Error())
			return
		}
		delay := retryDelay(attempt, provider.RetryAfter(err))
		log.Warn().Err(err).Dur("backoff", delay).Msg("Sync failed, scheduling retry")
		_ = o.jobs.MarkRetry(ctx, job.ID, err.Error(), time.Now().Add(delay))
	}
}

// ensureFreshToken refreshes the connection's access token when it is expired
// or about to expire and the provider supports out-of-band refresh.
func (o *Orchestrator) ensureFreshToken(ctx context.Context, conn *models.Connection, adapter provider.Adapter) error {
	refresher, ok := adapter.(provider.TokenRefresher)
	if !ok {
		return nil
	}
	if !tokenExpired(conn.AccessTokenExpiresAt) {
		return nil
	}
	if conn.RefreshToken == nil {
		return &provider.Error{
			Kind:     provider.KindDisconnected,
			Provider: conn.Provider,
			Err:      errors.New("token expired and no refresh token available"),
		}
	}

	o.log.Info().Str("connection_id", conn.ID).Msg("Access token expired, refreshing")

	result, err := refresher.RefreshAccessToken(ctx, *conn.RefreshToken)
	if err != nil {
		return err
	}
	if err := o.conns.UpdateTokens(ctx, conn.ID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		return err
	}

	// Update the in-memory connection so the rest of this run uses the new
	// token.
	conn.AccessToken = &result.AccessToken
	conn.RefreshToken = &result.RefreshToken
	conn.AccessTokenExpiresAt = &result.ExpiresAt
	return nil
}

// tokenExpired checks if the token is expired or expires within the leeway
func tokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false // providers without expiry never rotate
	}
	return time.Now().Add(tokenExpiryLeeway).After(*expiresAt)
}
