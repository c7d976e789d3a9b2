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

var ErrConnectionNotFound = errors.New("connection not found")

type ConnectionRepository struct {
	router *routing.Router
}

func NewConnectionRepository(router *routing.Router) *ConnectionRepository {
	return &ConnectionRepository{router: router}
}

// GetByID retrieves a connection by ID. Orchestration reads always hit the
// primary; a sync must never run against a lagging view of its own tokens.
func (r *ConnectionRepository) GetByID(ctx context.Context, connectionID string) (*models.Connection, error) {
	var conn models.Connection
	result := r.router.Primary().WithContext(ctx).First(&conn, "id = ?", connectionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", result.Error)
	}
	return &conn, nil
}

// GetByProviderRef looks up a connection by the provider's own reference,
// used when a webhook addresses us with a provider-assigned id.
func (r *ConnectionRepository) GetByProviderRef(ctx context.Context, kind models.ProviderKind, providerRef string) (*models.Connection, error) {
	var conn models.Connection
	result := r.router.Primary().WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", kind, providerRef).
		First(&conn)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection by provider ref: %w", result.Error)
	}
	return &conn, nil
}

// ListActive retrieves all active connections, for the scheduled enumeration
func (r *ConnectionRepository) ListActive(ctx context.Context) ([]models.Connection, error) {
	var conns []models.Connection
	result := r.router.Primary().WithContext(ctx).
		Where("status = ?", models.ConnectionActive).
		Order("created_at ASC").
		Find(&conns)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", result.Error)
	}
	return conns, nil
}

// DistinctProviderKinds returns the provider kinds of all persisted
// connections, for startup registry validation.
func (r *ConnectionRepository) DistinctProviderKinds(ctx context.Context) ([]models.ProviderKind, error) {
	var kinds []models.ProviderKind
	result := r.router.Primary().WithContext(ctx).
		Model(&models.Connection{}).
		Distinct("provider").
		Pluck("provider", &kinds)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list provider kinds: %w", result.Error)
	}
	return kinds, nil
}

// UpdateStatus flips the connection status (never hard-deletes)
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, connectionID string, status models.ConnectionStatus) error {
	result := r.router.Primary().WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", connectionID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update connection status: %w", result.Error)
	}
	return nil
}

// UpdateTokens updates access token, refresh token, and expiry
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, connectionID string, accessToken, refreshToken string, expiresAt time.Time) error {
	result := r.router.Primary().WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", connectionID).
		Updates(map[string]interface{}{
			"access_token":            accessToken,
			"refresh_token":           refreshToken,
			"access_token_expires_at": expiresAt,
			"updated_at":              time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// TouchLastSynced records a completed sync
func (r *ConnectionRepository) TouchLastSynced(ctx context.Context, connectionID string, at time.Time) error {
	result := r.router.Primary().WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", connectionID).
		Updates(map[string]interface{}{
			"last_synced_at": at,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch last_synced_at: %w", result.Error)
	}
	return nil
}
