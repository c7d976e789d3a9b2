package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bankline-io/bankline-worker/internal/models"
)

const sandbankBaseURL = "https://api.sandbank.dev/v1"

// Sandbank adapter. Sandbank reports amounts in minor units with the canonical
// sign convention already applied, paginates with an opaque cursor, and
// attaches its own category codes to every transaction.
type Sandbank struct {
	baseURL    string
	httpClient *http.Client
}

func NewSandbank() *Sandbank {
	return &Sandbank{
		baseURL: sandbankBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *Sandbank) Kind() models.ProviderKind {
	return models.ProviderSandbank
}

// SetBaseURL overrides the API base URL (used against sandbox environments)
func (s *Sandbank) SetBaseURL(u string) {
	s.baseURL = u
}

type sandbankAccount struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	Type         string `json:"type"`
	BalanceMinor int64  `json:"balance_minor"`
}

type sandbankTransaction struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	PostedAt    string `json:"posted_at"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Pending     bool   `json:"pending"`
}

// FetchAccounts lists all accounts under the connection
func (s *Sandbank) FetchAccounts(ctx context.Context, conn *models.Connection) ([]RawAccount, error) {
	var payload struct {
		Accounts []sandbankAccount `json:"accounts"`
	}
	if err := s.get(ctx, conn, "/accounts", nil, &payload); err != nil {
		return nil, err
	}

	accounts := make([]RawAccount, 0, len(payload.Accounts))
	for _, a := range payload.Accounts {
		balance := a.BalanceMinor
		accounts = append(accounts, RawAccount{
			Provider:     models.ProviderSandbank,
			ExternalID:   a.ID,
			Name:         a.Name,
			Currency:     a.Currency,
			Type:         a.Type,
			BalanceMinor: &balance,
		})
	}
	return accounts, nil
}

// FetchTransactions fetches one cursor page of transactions
func (s *Sandbank) FetchTransactions(ctx context.Context, conn *models.Connection, externalAccountID, cursor string, fullHistory bool) (*TransactionPage, error) {
	lookback := IncrementalLookback
	if fullHistory {
		lookback = FullHistoryLookback
	}

	params := url.Values{}
	params.Set("from", time.Now().Add(-lookback).Format("2006-01-02"))
	params.Set("limit", "100")
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var payload struct {
		Transactions []sandbankTransaction `json:"transactions"`
		NextCursor   string                `json:"next_cursor"`
	}
	path := fmt.Sprintf("/accounts/%s/transactions", externalAccountID)
	if err := s.get(ctx, conn, path, params, &payload); err != nil {
		return nil, err
	}

	page := &TransactionPage{NextCursor: payload.NextCursor}
	for _, t := range payload.Transactions {
		amount := t.AmountMinor
		raw := RawTransaction{
			Provider:          models.ProviderSandbank,
			ExternalID:        t.ID,
			ExternalAccountID: externalAccountID,
			AmountMinor:       &amount,
			Currency:          t.Currency,
			Description:       t.Description,
			CategoryCode:      t.Category,
			Pending:           t.Pending,
		}
		// Leave a zero date for the normalizer to reject rather than failing
		// the whole page.
		if ts, err := time.Parse("2006-01-02", t.PostedAt); err == nil {
			raw.Date = ts
		}
		page.Transactions = append(page.Transactions, raw)
	}
	return page, nil
}

// Healthcheck probes the provider status endpoint
func (s *Sandbank) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return transient(models.ProviderSandbank, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(models.ProviderSandbank, resp)
	}
	return nil
}

// get performs an authenticated GET and decodes the JSON response
func (s *Sandbank) get(ctx context.Context, conn *models.Connection, path string, params url.Values, out interface{}) error {
	if conn.AccessToken == nil {
		return &Error{
			Kind:     KindDisconnected,
			Provider: models.ProviderSandbank,
			Err:      fmt.Errorf("connection has no access token"),
		}
	}

	u := s.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+*conn.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return transient(models.ProviderSandbank, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(models.ProviderSandbank, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
