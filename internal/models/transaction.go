package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionPosted  TransactionStatus = "posted"
)

// CategorySource records how a transaction's category was assigned, so an
// explicit rule match stays distinguishable from the amount-sign heuristic and
// user overrides survive re-syncs.
type CategorySource string

const (
	CategoryByRule      CategorySource = "rule"
	CategoryByHeuristic CategorySource = "heuristic"
	CategoryByUser      CategorySource = "user"
)

// Transaction is the canonical financial event. Amount uses a single sign
// convention: positive = inflow, negative = outflow, whatever the provider's
// native convention was. IdempotencyKey is derived deterministically from
// (account id, provider external id); re-ingesting the same source event
// upserts instead of duplicating.
type Transaction struct {
	ID             string            `gorm:"column:id;primaryKey"`
	AccountID      string            `gorm:"column:account_id;index"`
	TenantID       string            `gorm:"column:tenant_id;uniqueIndex:ux_transaction_tenant_key,priority:1"`
	IdempotencyKey string            `gorm:"column:idempotency_key;uniqueIndex:ux_transaction_tenant_key,priority:2"`
	Amount         decimal.Decimal   `gorm:"column:amount;type:numeric(19,4)"`
	Currency       string            `gorm:"column:currency"`
	Date           time.Time         `gorm:"column:date;index"`
	Description    string            `gorm:"column:description"`
	Category       *string           `gorm:"column:category"`
	CategorySource *CategorySource   `gorm:"column:category_source"`
	Status         TransactionStatus `gorm:"column:status"`
	Metadata       JSONB             `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Transaction) TableName() string {
	return "transaction"
}
