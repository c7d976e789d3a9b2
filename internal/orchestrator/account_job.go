package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/normalize"
	"github.com/bankline-io/bankline-worker/internal/provider"
)

// runAccountJob creates and executes one account-scoped child job with its
// own retry budget. Returns the number of newly persisted transactions,
// accumulated across attempts: pages upserted before a mid-pagination failure
// stay persisted and re-upsert as not-new on the retry, so they are counted
// when they first land. Siblings keep running whatever happens here;
// persistence is per-account, never transactional across the whole connection.
func (o *Orchestrator) runAccountJob(ctx context.Context, parent *models.SyncJob, conn *models.Connection, adapter provider.Adapter, account models.Account) (int, error) {
	accountID := account.ID
	child := &models.SyncJob{
		ID:           uuid.New().String(),
		ConnectionID: conn.ID,
		AccountID:    &accountID,
		ParentID:     &parent.ID,
		TenantID:     conn.TenantID,
		Scope:        models.ScopeAccount,
		FullHistory:  parent.FullHistory,
		State:        models.JobQueued,
	}
	if err := o.jobs.Create(ctx, child); err != nil {
		return 0, err
	}

	log := o.log.With().
		Str("job_id", child.ID).
		Str("account_id", account.ID).
		Str("external_id", account.ExternalID).
		Logger()

	var lastErr error
	newSoFar := 0
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if err := o.jobs.MarkRunning(ctx, child.ID); err != nil {
			return newSoFar, err
		}

		n, err := o.syncAccountOnce(ctx, conn, adapter, &account, parent.FullHistory)
		newSoFar += n
		if err == nil {
			_ = o.jobs.MarkSucceeded(ctx, child.ID, newSoFar)
			log.Info().Int("new_transactions", newSoFar).Msg("Account sync succeeded")
			return newSoFar, nil
		}
		lastErr = err

		kind := provider.Classify(err)
		if kind == provider.KindDisconnected {
			_ = o.jobs.MarkTerminal(ctx, child.ID, err.Error())
			return newSoFar, err
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// Shutdown or sibling-triggered cancellation: park the job for
			// the next run instead of burning its retry budget.
			_ = o.jobs.MarkRetry(ctx, child.ID, err.Error(), time.Now())
			return newSoFar, err
		}
		if attempt >= o.cfg.MaxAttempts {
			break
		}

		delay := retryDelay(attempt, provider.RetryAfter(err))
		log.Warn().Err(err).
			Str("error_kind", string(kind)).
			Dur("backoff", delay).
			Int("attempt", attempt).
			Msg("Account sync failed, retrying")
		_ = o.jobs.MarkRetry(ctx, child.ID, err.Error(), time.Now().Add(delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return newSoFar, ctx.Err()
		}
	}

	log.Error().Err(lastErr).Int("attempts", o.cfg.MaxAttempts).Msg("Account sync failed terminally")
	_ = o.jobs.MarkTerminal(ctx, child.ID, lastErr.Error())
	return newSoFar, lastErr
}

// syncAccountOnce runs one attempt of the account pipeline: page through the
// provider, normalize each record, upsert each batch. Cancellation is
// cooperative, checked between pipeline stages so an in-flight batch always
// lands completely.
func (o *Orchestrator) syncAccountOnce(ctx context.Context, conn *models.Connection, adapter provider.Adapter, account *models.Account, fullHistory bool) (int, error) {
	total := 0
	cursor := ""

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		cctx, cancel := context.WithTimeout(ctx, o.cfg.ProviderCallTimeout)
		page, err := adapter.FetchTransactions(cctx, conn, account.ExternalID, cursor, fullHistory)
		cancel()
		if err != nil {
			return total, err
		}

		batch := make([]models.Transaction, 0, len(page.Transactions))
		for _, raw := range page.Transactions {
			txn, err := normalize.Transaction(raw, account.ID, conn.TenantID)
			if err != nil {
				// Record-level validation failure: skip it, keep the batch.
				o.log.Warn().Err(err).
					Str("account_id", account.ID).
					Str("provider", string(conn.Provider)).
					Msg("Skipping malformed transaction record")
				continue
			}
			batch = append(batch, txn)
		}

		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := o.txns.UpsertTransactions(ctx, account.ID, batch)
		total += n
		if err != nil {
			return total, err
		}

		if page.NextCursor == "" {
			return total, nil
		}
		cursor = page.NextCursor
	}
}
