package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/bankline-io/bankline-worker/internal/models"
)

const fincoreBaseURL = "https://api.fincore.io/v2"

// Fincore adapter. Fincore reports amounts as decimal strings with debits
// positive (inverted relative to the canonical convention), paginates by page
// number, and rotates access tokens through a standard OAuth2 refresh flow.
type Fincore struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewFincore(clientID, clientSecret string) *Fincore {
	return &Fincore{
		baseURL:      fincoreBaseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (f *Fincore) Kind() models.ProviderKind {
	return models.ProviderFincore
}

// SetBaseURL overrides the API base URL (used against sandbox environments)
func (f *Fincore) SetBaseURL(u string) {
	f.baseURL = u
}

type fincoreAccount struct {
	AccountID string `json:"account_id"`
	Label     string `json:"label"`
	Currency  string `json:"currency"`
	Kind      string `json:"kind"`
	Balance   string `json:"balance"`
}

type fincoreTransaction struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"` // decimal string, debits positive
	Currency      string `json:"currency"`
	BookedAt      string `json:"booked_at"` // RFC3339
	Reference     string `json:"reference"`
	CategoryCode  string `json:"category_code"`
	State         string `json:"state"` // booked or pending
}

// FetchAccounts lists all accounts under the connection
func (f *Fincore) FetchAccounts(ctx context.Context, conn *models.Connection) ([]RawAccount, error) {
	var payload struct {
		Accounts []fincoreAccount `json:"accounts"`
	}
	if err := f.get(ctx, conn, "/accounts", nil, &payload); err != nil {
		return nil, err
	}

	accounts := make([]RawAccount, 0, len(payload.Accounts))
	for _, a := range payload.Accounts {
		accounts = append(accounts, RawAccount{
			Provider:   models.ProviderFincore,
			ExternalID: a.AccountID,
			Name:       a.Label,
			Currency:   a.Currency,
			Type:       a.Kind,
			Balance:    a.Balance,
		})
	}
	return accounts, nil
}

// FetchTransactions fetches one page of transactions. Fincore paginates by
// page number; the cursor carries the next page to request.
func (f *Fincore) FetchTransactions(ctx context.Context, conn *models.Connection, externalAccountID, cursor string, fullHistory bool) (*TransactionPage, error) {
	page := 1
	if cursor != "" {
		p, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid fincore cursor %q: %w", cursor, err)
		}
		page = p
	}

	lookback := IncrementalLookback
	if fullHistory {
		lookback = FullHistoryLookback
	}

	params := url.Values{}
	params.Set("account_id", externalAccountID)
	params.Set("since", time.Now().Add(-lookback).Format(time.RFC3339))
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", "100")

	var payload struct {
		Transactions []fincoreTransaction `json:"transactions"`
		Page         int                  `json:"page"`
		TotalPages   int                  `json:"total_pages"`
	}
	if err := f.get(ctx, conn, "/transactions", params, &payload); err != nil {
		return nil, err
	}

	result := &TransactionPage{}
	if payload.Page < payload.TotalPages {
		result.NextCursor = strconv.Itoa(payload.Page + 1)
	}

	for _, t := range payload.Transactions {
		raw := RawTransaction{
			Provider:          models.ProviderFincore,
			ExternalID:        t.TransactionID,
			ExternalAccountID: externalAccountID,
			Amount:            t.Amount,
			Currency:          t.Currency,
			Description:       t.Reference,
			CategoryCode:      t.CategoryCode,
			Pending:           t.State == "pending",
		}
		if ts, err := time.Parse(time.RFC3339, t.BookedAt); err == nil {
			raw.Date = ts
		}
		result.Transactions = append(result.Transactions, raw)
	}
	return result, nil
}

// Healthcheck probes the provider status endpoint
func (f *Fincore) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", f.baseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return transient(models.ProviderFincore, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(models.ProviderFincore, resp)
	}
	return nil
}

// RefreshAccessToken refreshes the OAuth2 access token
func (f *Fincore) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     f.clientID,
		ClientSecret: f.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: f.baseURL + "/oauth/token",
		},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	tokenSource := config.TokenSource(ctx, token)
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, &Error{
			Kind:     KindDisconnected,
			Provider: models.ProviderFincore,
			Err:      fmt.Errorf("failed to refresh token: %w", err),
		}
	}

	result := &TokenRefreshResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}

	// Check if refresh token was rotated
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken
	}

	return result, nil
}

// get performs an authenticated GET and decodes the JSON response
func (f *Fincore) get(ctx context.Context, conn *models.Connection, path string, params url.Values, out interface{}) error {
	if conn.AccessToken == nil {
		return &Error{
			Kind:     KindDisconnected,
			Provider: models.ProviderFincore,
			Err:      fmt.Errorf("connection has no access token"),
		}
	}

	u := f.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+*conn.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return transient(models.ProviderFincore, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(models.ProviderFincore, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
