package models

import "time"

// ProviderKind identifies an external banking provider.
type ProviderKind string

const (
	ProviderSandbank  ProviderKind = "sandbank"
	ProviderFincore   ProviderKind = "fincore"
	ProviderBrightfin ProviderKind = "brightfin"
)

type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "active"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionExpired      ConnectionStatus = "expired"
)

// Connection represents a tenant's authorized link to one external banking provider.
// Connections are never hard-deleted; an unrecoverable provider error flips the
// status to disconnected.
type Connection struct {
	ID                   string           `gorm:"column:id;primaryKey"`
	TenantID             string           `gorm:"column:tenant_id;index"`
	Provider             ProviderKind     `gorm:"column:provider"`
	ProviderRef          string           `gorm:"column:provider_ref;index"` // provider-assigned reference, used by webhook lookups
	AccessToken          *string          `gorm:"column:access_token"`
	RefreshToken         *string          `gorm:"column:refresh_token"`
	AccessTokenExpiresAt *time.Time       `gorm:"column:access_token_expires_at"`
	Status               ConnectionStatus `gorm:"column:status;index"`
	LastSyncedAt         *time.Time       `gorm:"column:last_synced_at"`
	CreatedAt            time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Connection) TableName() string {
	return "connection"
}
