package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bankline-io/bankline-worker/internal/logger"
	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/orchestrator"
	"github.com/bankline-io/bankline-worker/internal/repository"
)

// webhookPayload is the common shape provider callbacks carry: the provider's
// own connection reference and an update-type code.
type webhookPayload struct {
	ConnectionRef string `json:"connection_ref"`
	UpdateType    string `json:"update_type"`
}

// handleWebhook processes a provider callback. The signature is validated
// against the provider's shared secret before anything touches the database;
// an unauthenticated callback has no side effects at all.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	kind := models.ProviderKind(r.PathValue("provider"))

	secret, ok := s.webhookSecrets[string(kind)]
	if !ok || secret == "" {
		lg := logger.FromContext(r.Context())
		lg.Warn().Str("provider", string(kind)).Msg("Webhook for provider without configured secret")
		WriteError(w, http.StatusNotFound, "Unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	if !validSignature(secret, body, r.Header.Get("X-Signature")) {
		lg := logger.FromContext(r.Context())
		lg.Warn().Str("provider", string(kind)).Msg("Webhook signature validation failed")
		WriteError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ConnectionRef == "" {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	conn, err := s.conns.GetByProviderRef(r.Context(), kind, payload.ConnectionRef)
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			WriteError(w, http.StatusNotFound, "Unknown connection reference")
			return
		}
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Webhook connection lookup failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	job, err := s.enqueuer.EnqueueConnectionSync(r.Context(), conn, false)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSyncAlreadyQueued) {
			WriteJSON(w, http.StatusAccepted, map[string]string{"status": "already_queued"})
			return
		}
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Webhook enqueue failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	lg := logger.FromContext(r.Context())
	lg.Info().
		Str("provider", string(kind)).
		Str("connection_id", conn.ID).
		Str("update_type", payload.UpdateType).
		Msg("Webhook accepted")

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "job_id": job.ID})
}

// validSignature checks an HMAC-SHA256 hex signature in constant time
func validSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
