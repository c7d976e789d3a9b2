package provider

import (
	"context"
	"time"

	"github.com/bankline-io/bankline-worker/internal/models"
)

const (
	// FullHistoryLookback is the window requested for a full historical sync
	FullHistoryLookback = 2 * 365 * 24 * time.Hour
	// IncrementalLookback is the window requested for a "latest" sync
	IncrementalLookback = 30 * 24 * time.Hour
)

// RawAccount is an unprocessed provider account payload
type RawAccount struct {
	Provider     models.ProviderKind
	ExternalID   string
	Name         string
	Currency     string
	Type         string
	Balance      string // decimal string as provided
	BalanceMinor *int64 // set instead when the provider reports minor units
}

// RawTransaction is an unprocessed provider transaction payload. Amounts are
// carried exactly as the provider reported them; sign and unit conventions are
// resolved later by the normalization engine.
type RawTransaction struct {
	Provider          models.ProviderKind
	ExternalID        string
	ExternalAccountID string
	Amount            string // decimal string as provided
	AmountMinor       *int64 // set instead when the provider reports minor units
	Currency          string
	Date              time.Time
	Description       string
	CategoryCode      string // provider-native category code, may be empty
	Pending           bool
}

// TransactionPage is one page of a transaction fetch. An empty NextCursor
// means the fetch is complete.
type TransactionPage struct {
	Transactions []RawTransaction
	NextCursor   string
}

// Adapter is the capability surface every provider implementation conforms to.
// Pagination style, lookback mechanics, and auth differ per provider; the
// contract does not.
type Adapter interface {
	Kind() models.ProviderKind

	FetchAccounts(ctx context.Context, conn *models.Connection) ([]RawAccount, error)

	// FetchTransactions fetches one page of transactions for the given
	// provider-side account. fullHistory selects the multi-year lookback
	// instead of the incremental one; the caller decides, never the adapter.
	FetchTransactions(ctx context.Context, conn *models.Connection, externalAccountID, cursor string, fullHistory bool) (*TransactionPage, error)

	Healthcheck(ctx context.Context) error
}

// TokenRefreshResult carries a refreshed provider access token
type TokenRefreshResult struct {
	AccessToken  string
	RefreshToken string // may be the same or a rotated one
	ExpiresAt    time.Time
}

// TokenRefresher is implemented by adapters whose provider rotates access
// tokens out-of-band of normal calls.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
}
