package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a financial account surfaced under a Connection.
// ExternalID is the provider-assigned account identifier and is the dedup key
// within a connection.
type Account struct {
	ID               string          `gorm:"column:id;primaryKey"`
	ConnectionID     string          `gorm:"column:connection_id;uniqueIndex:ux_account_connection_external,priority:1"`
	TenantID         string          `gorm:"column:tenant_id;index"`
	ExternalID       string          `gorm:"column:external_id;uniqueIndex:ux_account_connection_external,priority:2"`
	Name             string          `gorm:"column:name"`
	Currency         string          `gorm:"column:currency"`
	Type             string          `gorm:"column:type"` // depository, credit, loan, other
	Balance          decimal.Decimal `gorm:"column:balance;type:numeric(19,4)"`
	BalanceUpdatedAt *time.Time      `gorm:"column:balance_updated_at"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "account"
}
