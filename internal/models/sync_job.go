package models

import "time"

type SyncJobState string

const (
	JobQueued          SyncJobState = "queued"
	JobRunning         SyncJobState = "running"
	JobSucceeded       SyncJobState = "succeeded"
	JobFailedRetryable SyncJobState = "failed_retryable"
	JobFailedTerminal  SyncJobState = "failed_terminal"
)

type SyncScope string

const (
	ScopeConnection SyncScope = "connection"
	ScopeAccount    SyncScope = "account"
)

// SyncJob tracks one orchestration run. Connection-scoped jobs fan out into
// account-scoped child jobs (ParentID links them). Rows are retained after
// completion for retry history and observability.
type SyncJob struct {
	ID              string       `gorm:"column:id;primaryKey"`
	ConnectionID    string       `gorm:"column:connection_id;index"`
	AccountID       *string      `gorm:"column:account_id"` // nil for connection-scoped jobs
	ParentID        *string      `gorm:"column:parent_id;index"`
	TenantID        string       `gorm:"column:tenant_id;index"`
	Scope           SyncScope    `gorm:"column:scope"`
	FullHistory     bool         `gorm:"column:full_history"`
	State           SyncJobState `gorm:"column:state;index"`
	Attempts        int          `gorm:"column:attempts"`
	NextRunAt       *time.Time   `gorm:"column:next_run_at"` // backoff schedule for failed_retryable
	LastError       *string      `gorm:"column:last_error"`
	NewTransactions int          `gorm:"column:new_transactions"`
	CreatedAt       time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time    `gorm:"column:updated_at;autoUpdateTime"`
	ProcessedAt     *time.Time   `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_job"
}

// Terminal reports whether the job has reached a terminal state.
func (j *SyncJob) Terminal() bool {
	return j.State == JobSucceeded || j.State == JobFailedTerminal
}
