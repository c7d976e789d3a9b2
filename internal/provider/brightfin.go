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

const brightfinBaseURL = "https://banking.brightfin.app/api"

// Brightfin adapter. Brightfin reports amounts as signed decimal strings in
// the canonical convention, paginates with a "next" token embedded in the
// response, and carries no category codes at all.
type Brightfin struct {
	baseURL    string
	httpClient *http.Client
}

func NewBrightfin() *Brightfin {
	return &Brightfin{
		baseURL: brightfinBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (b *Brightfin) Kind() models.ProviderKind {
	return models.ProviderBrightfin
}

// SetBaseURL overrides the API base URL (used against sandbox environments)
func (b *Brightfin) SetBaseURL(u string) {
	b.baseURL = u
}

type brightfinAccount struct {
	UID      string `json:"uid"`
	Nickname string `json:"nickname"`
	Currency string `json:"currency"`
	Class    string `json:"class"`
	Balance  string `json:"balance"`
}

type brightfinTransaction struct {
	UID       string `json:"uid"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Timestamp string `json:"timestamp"` // RFC3339
	Narrative string `json:"narrative"`
	Settled   bool   `json:"settled"`
}

// FetchAccounts lists all accounts under the connection
func (b *Brightfin) FetchAccounts(ctx context.Context, conn *models.Connection) ([]RawAccount, error) {
	var payload struct {
		Data []brightfinAccount `json:"data"`
	}
	if err := b.get(ctx, conn, "/accounts", nil, &payload); err != nil {
		return nil, err
	}

	accounts := make([]RawAccount, 0, len(payload.Data))
	for _, a := range payload.Data {
		accounts = append(accounts, RawAccount{
			Provider:   models.ProviderBrightfin,
			ExternalID: a.UID,
			Name:       a.Nickname,
			Currency:   a.Currency,
			Type:       a.Class,
			Balance:    a.Balance,
		})
	}
	return accounts, nil
}

// FetchTransactions fetches one token page of transactions
func (b *Brightfin) FetchTransactions(ctx context.Context, conn *models.Connection, externalAccountID, cursor string, fullHistory bool) (*TransactionPage, error) {
	lookback := IncrementalLookback
	if fullHistory {
		lookback = FullHistoryLookback
	}

	params := url.Values{}
	params.Set("since", time.Now().Add(-lookback).Format(time.RFC3339))
	if cursor != "" {
		params.Set("next", cursor)
	}

	var payload struct {
		Data []brightfinTransaction `json:"data"`
		Next string                 `json:"next"`
	}
	path := fmt.Sprintf("/accounts/%s/transactions", externalAccountID)
	if err := b.get(ctx, conn, path, params, &payload); err != nil {
		return nil, err
	}

	page := &TransactionPage{NextCursor: payload.Next}
	for _, t := range payload.Data {
		raw := RawTransaction{
			Provider:          models.ProviderBrightfin,
			ExternalID:        t.UID,
			ExternalAccountID: externalAccountID,
			Amount:            t.Amount,
			Currency:          t.Currency,
			Description:       t.Narrative,
			Pending:           !t.Settled,
		}
		if ts, err := time.Parse(time.RFC3339, t.Timestamp); err == nil {
			raw.Date = ts
		}
		page.Transactions = append(page.Transactions, raw)
	}
	return page, nil
}

// Healthcheck probes the provider status endpoint
func (b *Brightfin) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", b.baseURL+"/ping", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return transient(models.ProviderBrightfin, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(models.ProviderBrightfin, resp)
	}
	return nil
}

// get performs an authenticated GET and decodes the JSON response
func (b *Brightfin) get(ctx context.Context, conn *models.Connection, path string, params url.Values, out interface{}) error {
	if conn.AccessToken == nil {
		return &Error{
			Kind:     KindDisconnected,
			Provider: models.ProviderBrightfin,
			Err:      fmt.Errorf("connection has no access token"),
		}
	}

	u := b.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+*conn.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return transient(models.ProviderBrightfin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(models.ProviderBrightfin, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
