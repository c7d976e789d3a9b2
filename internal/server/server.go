// Package server exposes the trigger surface: provider webhooks, manual sync
// requests, and the tenant read endpoints that exercise the consistency
// router. Authentication happens upstream; requests arrive with a verified
// tenant identity in the X-Tenant-ID header.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bankline-io/bankline-worker/internal/logger"
	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/orchestrator"
	"github.com/bankline-io/bankline-worker/internal/repository"
)

// ConnectionReader is the connection lookup surface the server needs
type ConnectionReader interface {
	GetByID(ctx context.Context, connectionID string) (*models.Connection, error)
	GetByProviderRef(ctx context.Context, kind models.ProviderKind, providerRef string) (*models.Connection, error)
}

// TransactionReader serves tenant-facing transaction reads and overrides
type TransactionReader interface {
	ListByConnection(ctx context.Context, tenantID, connectionID string, limit int) ([]models.Transaction, error)
	OverrideCategory(ctx context.Context, tenantID, transactionID, category string) error
}

// Enqueuer enqueues connection-scoped sync jobs
type Enqueuer interface {
	EnqueueConnectionSync(ctx context.Context, conn *models.Connection, fullHistory bool) (*models.SyncJob, error)
}

// HealthChecker probes provider reachability, per registered kind
type HealthChecker interface {
	Healthchecks(ctx context.Context) map[models.ProviderKind]error
}

type Server struct {
	conns          ConnectionReader
	txns           TransactionReader
	enqueuer       Enqueuer
	checker        HealthChecker
	webhookSecrets map[string]string
	log            zerolog.Logger
}

func New(conns ConnectionReader, txns TransactionReader, enqueuer Enqueuer, checker HealthChecker, webhookSecrets map[string]string, log zerolog.Logger) *Server {
	return &Server{
		conns:          conns,
		txns:           txns,
		enqueuer:       enqueuer,
		checker:        checker,
		webhookSecrets: webhookSecrets,
		log:            log,
	}
}

// Handler builds the full route table with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /webhooks/{provider}", s.handleWebhook)
	mux.HandleFunc("POST /api/connections/{id}/sync", s.handleManualSync)
	mux.HandleFunc("GET /api/connections/{id}/transactions", s.handleListTransactions)
	mux.HandleFunc("PATCH /api/transactions/{id}/category", s.handleOverrideCategory)

	var h http.Handler = mux
	h = Recovery(s.log)(h)
	h = Logger(s.log)(h)
	return h
}

// handleHealth reports liveness plus per-provider reachability. A provider
// outage degrades the report but does not fail the endpoint; the worker
// itself is still alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	providers := make(map[string]string)
	for kind, err := range s.checker.Healthchecks(ctx) {
		if err != nil {
			providers[string(kind)] = "unreachable"
			status = "degraded"
			continue
		}
		providers[string(kind)] = "ok"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"providers": providers,
	})
}

// handleManualSync handles a user-initiated sync request
func (s *Server) handleManualSync(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		WriteError(w, http.StatusUnauthorized, "Missing tenant identity")
		return
	}

	var req struct {
		FullHistory bool `json:"full_history"`
	}
	if r.Body != nil {
		// An empty body means an incremental sync.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	conn, err := s.conns.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			WriteError(w, http.StatusNotFound, "Connection not found")
			return
		}
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Connection lookup failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if conn.TenantID != tenantID {
		// Tenant isolation: don't leak whether the connection exists.
		WriteError(w, http.StatusNotFound, "Connection not found")
		return
	}

	job, err := s.enqueuer.EnqueueConnectionSync(r.Context(), conn, req.FullHistory)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSyncAlreadyQueued) {
			WriteJSON(w, http.StatusAccepted, map[string]string{"status": "already_queued"})
			return
		}
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Manual sync enqueue failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "job_id": job.ID})
}

// handleListTransactions serves a tenant read, routed primary-or-replica by
// the consistency router underneath the repository.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		WriteError(w, http.StatusUnauthorized, "Missing tenant identity")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	txns, err := s.txns.ListByConnection(r.Context(), tenantID, r.PathValue("id"), limit)
	if err != nil {
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Failed to list transactions")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"count":        len(txns),
	})
}

// handleOverrideCategory applies a manual category override. Overrides are
// permanent against re-syncs.
func (s *Server) handleOverrideCategory(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		WriteError(w, http.StatusUnauthorized, "Missing tenant identity")
		return
	}

	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Category == "" {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := s.txns.OverrideCategory(r.Context(), tenantID, r.PathValue("id"), req.Category)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			WriteError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Category override failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
