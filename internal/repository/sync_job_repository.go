package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/routing"
)

var ErrJobNotFound = errors.New("sync job not found")

type SyncJobRepository struct {
	router *routing.Router
}

func NewSyncJobRepository(router *routing.Router) *SyncJobRepository {
	return &SyncJobRepository{router: router}
}

// Create inserts a new sync job
func (r *SyncJobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	result := r.router.Primary().WithContext(ctx).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to create sync job: %w", result.Error)
	}
	return nil
}

// GetDue retrieves connection-scoped jobs ready to run: queued jobs plus
// retryable failures whose backoff has elapsed.
func (r *SyncJobRepository) GetDue(ctx context.Context, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.router.Primary().WithContext(ctx).
		Where("scope = ?", models.ScopeConnection).
		Where("state = ? OR (state = ? AND next_run_at <= ?)",
			models.JobQueued, models.JobFailedRetryable, time.Now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", result.Error)
	}
	return jobs, nil
}

// GetByID retrieves a sync job by ID
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.router.Primary().WithContext(ctx).First(&job, "id = ?", jobID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", result.Error)
	}
	return &job, nil
}

// HasLiveJob reports whether the connection already has a queued or running
// connection-scoped job, so schedulers and webhooks do not pile up duplicates.
func (r *SyncJobRepository) HasLiveJob(ctx context.Context, connectionID string) (bool, error) {
	var count int64
	result := r.router.Primary().WithContext(ctx).Model(&models.SyncJob{}).
		Where("connection_id = ? AND scope = ?", connectionID, models.ScopeConnection).
		Where("state IN ?", []models.SyncJobState{models.JobQueued, models.JobRunning, models.JobFailedRetryable}).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to count live jobs: %w", result.Error)
	}
	return count > 0, nil
}

// Claim transitions a job into the running state and increments its attempt
// counter. The guard on the current state keeps two pollers from running the
// same job.
func (r *SyncJobRepository) Claim(ctx context.Context, jobID string) (bool, error) {
	result := r.router.Primary().WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND state IN ?", jobID,
			[]models.SyncJobState{models.JobQueued, models.JobFailedRetryable}).
		Updates(map[string]interface{}{
			"state":      models.JobRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkRunning transitions a child job into the running state
func (r *SyncJobRepository) MarkRunning(ctx context.Context, jobID string) error {
	result := r.router.Primary().WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"state":      models.JobRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job running: %w", result.Error)
	}
	return nil
}

// MarkSucceeded finishes a job successfully
func (r *SyncJobRepository) MarkSucceeded(ctx context.Context, jobID string, newTransactions int) error {
	now := time.Now()
	result := r.router.Primary().WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"state":            models.JobSucceeded,
			"new_transactions": newTransactions,
			"last_error":       nil,
			"processed_at":     &now,
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", result.Error)
	}
	return nil
}

// MarkRetry schedules another attempt after the given backoff delay
func (r *SyncJobRepository) MarkRetry(ctx context.Context, jobID string, lastError string, nextRunAt time.Time) error {
	result := r.router.Primary().WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"state":       models.JobFailedRetryable,
			"last_error":  lastError,
			"next_run_at": nextRunAt,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job for retry: %w", result.Error)
	}
	return nil
}

// MarkTerminal finishes a job as permanently failed. Terminal failures stay
// visible in the job table; they are never silently dropped.
func (r *SyncJobRepository) MarkTerminal(ctx context.Context, jobID string, lastError string) error {
	now := time.Now()
	result := r.router.Primary().WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"state":        models.JobFailedTerminal,
			"last_error":   lastError,
			"processed_at": &now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job terminal: %w", result.Error)
	}
	return nil
}

// ListChildren retrieves the account-scoped children of a connection job
func (r *SyncJobRepository) ListChildren(ctx context.Context, parentID string) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.router.Primary().WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at ASC").
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list child jobs: %w", result.Error)
	}
	return jobs, nil
}
