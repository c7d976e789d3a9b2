package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/routing"
)

type AccountRepository struct {
	router *routing.Router
}

func NewAccountRepository(router *routing.Router) *AccountRepository {
	return &AccountRepository{router: router}
}

// UpsertAccounts inserts or refreshes accounts keyed by (connection_id,
// external_id). Balance and display fields are updated on conflict; identity
// fields are preserved. Marks the tenant as recently mutated.
func (r *AccountRepository) UpsertAccounts(ctx context.Context, accounts []models.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	now := time.Now()
	for i := range accounts {
		if accounts[i].ID == "" {
			accounts[i].ID = uuid.New().String()
		}
		accounts[i].BalanceUpdatedAt = &now
	}

	tenantID := accounts[0].TenantID
	result := r.router.Write(tenantID).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "currency", "type", "balance", "balance_updated_at", "updated_at",
			}),
		}).
		Create(&accounts)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert accounts: %w", result.Error)
	}
	return nil
}

// ListByConnection retrieves all accounts under a connection
func (r *AccountRepository) ListByConnection(ctx context.Context, connectionID string) ([]models.Account, error) {
	var accounts []models.Account
	result := r.router.Primary().WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Order("external_id ASC").
		Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", result.Error)
	}
	return accounts, nil
}

// ListByTenant retrieves all accounts for a tenant, routed through the
// consistency router for user-facing reads.
func (r *AccountRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Account, error) {
	var accounts []models.Account
	result := r.router.Read(tenantID).WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list tenant accounts: %w", result.Error)
	}
	return accounts, nil
}
