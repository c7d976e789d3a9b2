// Package notify emits sync-completion events for the external notification
// collaborator to consume.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ConnectionSynced is emitted when a connection-scoped sync job completes
type ConnectionSynced struct {
	TenantID        string `json:"tenant_id"`
	ConnectionID    string `json:"connection_id"`
	NewTransactions int    `json:"new_transactions"`
}

type Emitter interface {
	Emit(ctx context.Context, event ConnectionSynced) error
}

// HTTPEmitter posts events as JSON to a configured endpoint
type HTTPEmitter struct {
	url        string
	httpClient *http.Client
}

func NewHTTPEmitter(url string) *HTTPEmitter {
	return &HTTPEmitter{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Emit posts the event; a non-2xx response is an error
func (e *HTTPEmitter) Emit(ctx context.Context, event ConnectionSynced) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// NopEmitter drops events; used when no notification endpoint is configured
type NopEmitter struct{}

func (NopEmitter) Emit(ctx context.Context, event ConnectionSynced) error {
	return nil
}
