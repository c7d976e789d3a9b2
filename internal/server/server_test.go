package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/orchestrator"
	"github.com/bankline-io/bankline-worker/internal/repository"
)

type stubConnReader struct {
	conn    *models.Connection
	lookups int
}

func (s *stubConnReader) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	s.lookups++
	if s.conn == nil || s.conn.ID != id {
		return nil, repository.ErrConnectionNotFound
	}
	cp := *s.conn
	return &cp, nil
}

func (s *stubConnReader) GetByProviderRef(ctx context.Context, kind models.ProviderKind, ref string) (*models.Connection, error) {
	s.lookups++
	if s.conn == nil || s.conn.Provider != kind || s.conn.ProviderRef != ref {
		return nil, repository.ErrConnectionNotFound
	}
	cp := *s.conn
	return &cp, nil
}

type stubTxnReader struct {
	txns       []models.Transaction
	overrides  map[string]string
	overrideOK bool
}

func (s *stubTxnReader) ListByConnection(ctx context.Context, tenantID, connectionID string, limit int) ([]models.Transaction, error) {
	return s.txns, nil
}

func (s *stubTxnReader) OverrideCategory(ctx context.Context, tenantID, transactionID, category string) error {
	if !s.overrideOK {
		return repository.ErrTransactionNotFound
	}
	if s.overrides == nil {
		s.overrides = make(map[string]string)
	}
	s.overrides[transactionID] = category
	return nil
}

type stubEnqueuer struct {
	enqueued []bool // full_history flag per call
	err      error
}

func (s *stubEnqueuer) EnqueueConnectionSync(ctx context.Context, conn *models.Connection, fullHistory bool) (*models.SyncJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.enqueued = append(s.enqueued, fullHistory)
	return &models.SyncJob{ID: "job-123", State: models.JobQueued}, nil
}

type stubChecker struct {
	results map[models.ProviderKind]error
}

func (s *stubChecker) Healthchecks(ctx context.Context) map[models.ProviderKind]error {
	return s.results
}

func healthyChecker() *stubChecker {
	return &stubChecker{results: map[models.ProviderKind]error{
		models.ProviderSandbank: nil,
	}}
}

func testServer(conns *stubConnReader, txns *stubTxnReader, enq *stubEnqueuer) http.Handler {
	secrets := map[string]string{"sandbank": "whsec-test"}
	return New(conns, txns, enq, healthyChecker(), secrets, zerolog.Nop()).Handler()
}

func activeConnection() *models.Connection {
	return &models.Connection{
		ID:          "conn-1",
		TenantID:    "tenant-1",
		Provider:    models.ProviderSandbank,
		ProviderRef: "ref-abc",
		Status:      models.ConnectionActive,
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook_InvalidSignatureRejectedBeforeLookup(t *testing.T) {
	conns := &stubConnReader{conn: activeConnection()}
	enq := &stubEnqueuer{}
	h := testServer(conns, &stubTxnReader{}, enq)

	body := []byte(`{"connection_ref":"ref-abc","update_type":"transactions"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sandbank", bytes.NewReader(body))
	req.Header.Set("X-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// Nothing past signature validation may run.
	assert.Zero(t, conns.lookups)
	assert.Empty(t, enq.enqueued)
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	conns := &stubConnReader{conn: activeConnection()}
	h := testServer(conns, &stubTxnReader{}, &stubEnqueuer{})

	body := []byte(`{"connection_ref":"ref-abc"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sandbank", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, conns.lookups)
}

func TestWebhook_ValidSignatureEnqueues(t *testing.T) {
	conns := &stubConnReader{conn: activeConnection()}
	enq := &stubEnqueuer{}
	h := testServer(conns, &stubTxnReader{}, enq)

	body := []byte(`{"connection_ref":"ref-abc","update_type":"transactions"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sandbank", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign("whsec-test", body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.enqueued, 1)
	assert.False(t, enq.enqueued[0], "webhook syncs are incremental")

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "job-123", resp["job_id"])
}

func TestWebhook_UnconfiguredProviderIs404(t *testing.T) {
	h := testServer(&stubConnReader{}, &stubTxnReader{}, &stubEnqueuer{})

	body := []byte(`{"connection_ref":"ref-abc"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/brightfin", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign("whsec-test", body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_UnknownConnectionRefIs404(t *testing.T) {
	conns := &stubConnReader{conn: activeConnection()}
	h := testServer(conns, &stubTxnReader{}, &stubEnqueuer{})

	body := []byte(`{"connection_ref":"ref-unknown","update_type":"transactions"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sandbank", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign("whsec-test", body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualSync_MissingTenantIs401(t *testing.T) {
	enq := &stubEnqueuer{}
	h := testServer(&stubConnReader{conn: activeConnection()}, &stubTxnReader{}, enq)

	req := httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/sync", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, enq.enqueued)
}

func TestManualSync_TenantMismatchIs404(t *testing.T) {
	enq := &stubEnqueuer{}
	h := testServer(&stubConnReader{conn: activeConnection()}, &stubTxnReader{}, enq)

	req := httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/sync", nil)
	req.Header.Set("X-Tenant-ID", "tenant-other")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Existence must not leak across tenants.
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, enq.enqueued)
}

func TestManualSync_Queues(t *testing.T) {
	enq := &stubEnqueuer{}
	h := testServer(&stubConnReader{conn: activeConnection()}, &stubTxnReader{}, enq)

	req := httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/sync", strings.NewReader(`{"full_history":true}`))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.enqueued, 1)
	assert.True(t, enq.enqueued[0])
}

func TestManualSync_AlreadyQueuedIs202(t *testing.T) {
	enq := &stubEnqueuer{err: orchestrator.ErrSyncAlreadyQueued}
	h := testServer(&stubConnReader{conn: activeConnection()}, &stubTxnReader{}, enq)

	req := httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/sync", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "already_queued", resp["status"])
}

func TestListTransactions(t *testing.T) {
	category := "dining"
	txns := &stubTxnReader{txns: []models.Transaction{
		{ID: "tx-1", TenantID: "tenant-1", Category: &category},
	}}
	h := testServer(&stubConnReader{conn: activeConnection()}, txns, &stubEnqueuer{})

	req := httptest.NewRequest(http.MethodGet, "/api/connections/conn-1/transactions?limit=10", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestOverrideCategory(t *testing.T) {
	txns := &stubTxnReader{overrideOK: true}
	h := testServer(&stubConnReader{}, txns, &stubEnqueuer{})

	req := httptest.NewRequest(http.MethodPatch, "/api/transactions/tx-1/category", strings.NewReader(`{"category":"travel"}`))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "travel", txns.overrides["tx-1"])
}

func TestOverrideCategory_BadRequest(t *testing.T) {
	h := testServer(&stubConnReader{}, &stubTxnReader{overrideOK: true}, &stubEnqueuer{})

	req := httptest.NewRequest(http.MethodPatch, "/api/transactions/tx-1/category", strings.NewReader(`{}`))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverrideCategory_NotFound(t *testing.T) {
	h := testServer(&stubConnReader{}, &stubTxnReader{}, &stubEnqueuer{})

	req := httptest.NewRequest(http.MethodPatch, "/api/transactions/tx-9/category", strings.NewReader(`{"category":"travel"}`))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := testServer(&stubConnReader{}, &stubTxnReader{}, &stubEnqueuer{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status    string            `json:"status"`
		Providers map[string]string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Providers["sandbank"])
}

func TestHealthz_UnreachableProviderDegrades(t *testing.T) {
	checker := &stubChecker{results: map[models.ProviderKind]error{
		models.ProviderSandbank: nil,
		models.ProviderFincore:  errors.New("connection refused"),
	}}
	h := New(&stubConnReader{}, &stubTxnReader{}, &stubEnqueuer{}, checker, nil, zerolog.Nop()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// The worker is alive even when a provider is down.
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status    string            `json:"status"`
		Providers map[string]string `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Providers["sandbank"])
	assert.Equal(t, "unreachable", resp.Providers["fincore"])
}
