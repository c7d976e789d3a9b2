package models

import "testing"

func TestSyncJobTerminal(t *testing.T) {
	tests := []struct {
		state SyncJobState
		want  bool
	}{
		{JobQueued, false},
		{JobRunning, false},
		{JobFailedRetryable, false},
		{JobSucceeded, true},
		{JobFailedTerminal, true},
	}

	for _, tt := range tests {
		j := &SyncJob{State: tt.state}
		if got := j.Terminal(); got != tt.want {
			t.Errorf("Terminal() for state %q = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestSyncJobTableName(t *testing.T) {
	if got := (SyncJob{}).TableName(); got != "sync_job" {
		t.Errorf("expected table name 'sync_job', got %q", got)
	}
}
