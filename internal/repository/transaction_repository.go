package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bankline-io/bankline-worker/internal/models"
	"github.com/bankline-io/bankline-worker/internal/routing"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRepository is the idempotent upsert boundary into the relational
// store.
type TransactionRepository struct {
	router *routing.Router
}

func NewTransactionRepository(router *routing.Router) *TransactionRepository {
	return &TransactionRepository{router: router}
}

// upsertQuery conflicts on (tenant_id, idempotency_key): mutable fields are
// updated, identity fields preserved. A user-overridden category is never
// touched by a re-sync. RETURNING xmax = 0 distinguishes a fresh insert from
// an update of an existing row.
const upsertQuery = `
	INSERT INTO transaction
		(id, account_id, tenant_id, idempotency_key, amount, currency, date,
		 description, category, category_source, status, metadata, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now(), now())
	ON CONFLICT (tenant_id, idempotency_key) DO UPDATE SET
		status = EXCLUDED.status,
		description = EXCLUDED.description,
		category = CASE WHEN transaction.category_source = 'user'
			THEN transaction.category ELSE EXCLUDED.category END,
		category_source = CASE WHEN transaction.category_source = 'user'
			THEN transaction.category_source ELSE EXCLUDED.category_source END,
		updated_at = now()
	RETURNING (xmax = 0) AS inserted
`

// UpsertTransactions persists a normalized batch for one account. Safe to
// call repeatedly with overlapping input; re-ingesting the same source event
// updates instead of duplicating. Returns the number of newly inserted rows
// and marks the owning tenant as recently mutated.
func (r *TransactionRepository) UpsertTransactions(ctx context.Context, accountID string, txns []models.Transaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}

	db := r.router.Write(txns[0].TenantID).WithContext(ctx)

	inserted := 0
	for i := range txns {
		t := &txns[i]
		if t.AccountID == "" {
			t.AccountID = accountID
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}

		var isNew bool
		result := db.Raw(upsertQuery,
			t.ID, t.AccountID, t.TenantID, t.IdempotencyKey, t.Amount, t.Currency,
			t.Date, t.Description, t.Category, t.CategorySource, t.Status, t.Metadata,
		).Scan(&isNew)
		if result.Error != nil {
			return inserted, fmt.Errorf("failed to upsert transaction %s: %w", t.IdempotencyKey, result.Error)
		}
		if isNew {
			inserted++
		}
	}
	return inserted, nil
}

// ListByAccount retrieves transactions for an account, routed through the
// consistency router for user-facing reads.
func (r *TransactionRepository) ListByAccount(ctx context.Context, tenantID, accountID string, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	result := r.router.Read(tenantID).WithContext(ctx).
		Where("tenant_id = ? AND account_id = ?", tenantID, accountID).
		Order("date DESC").
		Limit(limit).
		Find(&txns)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", result.Error)
	}
	return txns, nil
}

// ListByConnection retrieves transactions across all accounts of a connection
func (r *TransactionRepository) ListByConnection(ctx context.Context, tenantID, connectionID string, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	result := r.router.Read(tenantID).WithContext(ctx).
		Joins("JOIN account ON account.id = transaction.account_id").
		Where("transaction.tenant_id = ? AND account.connection_id = ?", tenantID, connectionID).
		Order("transaction.date DESC").
		Limit(limit).
		Find(&txns)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list connection transactions: %w", result.Error)
	}
	return txns, nil
}

// OverrideCategory applies a user category override. Overrides are sticky:
// the upsert path refuses to replace a category whose source is user.
func (r *TransactionRepository) OverrideCategory(ctx context.Context, tenantID, transactionID, category string) error {
	source := models.CategoryByUser
	result := r.router.Write(tenantID).WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND tenant_id = ?", transactionID, tenantID).
		Updates(map[string]interface{}{
			"category":        category,
			"category_source": source,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to override category: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// GetByKey retrieves a transaction by its idempotency key
func (r *TransactionRepository) GetByKey(ctx context.Context, tenantID, idempotencyKey string) (*models.Transaction, error) {
	var txn models.Transaction
	result := r.router.Primary().WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, idempotencyKey).
		First(&txn)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", result.Error)
	}
	return &txn, nil
}
