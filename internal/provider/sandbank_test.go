package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankline-io/bankline-worker/internal/models"
)

func sandbankConn() *models.Connection {
	token := "tok-123"
	return &models.Connection{
		ID:          "conn-1",
		TenantID:    "tenant-1",
		Provider:    models.ProviderSandbank,
		AccessToken: &token,
	}
}

func TestSandbank_FetchAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accounts":[
			{"id":"ext_1","name":"Checking","currency":"USD","type":"checking","balance_minor":103455},
			{"id":"ext_2","name":"Card","currency":"USD","type":"credit_card","balance_minor":-50000}
		]}`))
	}))
	defer srv.Close()

	adapter := NewSandbank()
	adapter.SetBaseURL(srv.URL)

	accounts, err := adapter.FetchAccounts(context.Background(), sandbankConn())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "ext_1", accounts[0].ExternalID)
	require.NotNil(t, accounts[0].BalanceMinor)
	assert.Equal(t, int64(103455), *accounts[0].BalanceMinor)
}

func TestSandbank_FetchTransactions_Pagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/accounts/ext_1/transactions", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("from"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"transactions":[
				{"id":"tx_1","amount_minor":-4250,"currency":"USD","posted_at":"2026-03-01","description":"COFFEE","category":"dining"}
			],"next_cursor":"page2"}`))
			return
		}
		assert.Equal(t, "page2", r.URL.Query().Get("cursor"))
		w.Write([]byte(`{"transactions":[
			{"id":"tx_2","amount_minor":250000,"currency":"USD","posted_at":"2026-03-02","description":"SALARY","category":"salary","pending":true}
		],"next_cursor":""}`))
	}))
	defer srv.Close()

	adapter := NewSandbank()
	adapter.SetBaseURL(srv.URL)
	ctx := context.Background()
	conn := sandbankConn()

	page, err := adapter.FetchTransactions(ctx, conn, "ext_1", "", false)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "page2", page.NextCursor)
	assert.Equal(t, "tx_1", page.Transactions[0].ExternalID)
	require.NotNil(t, page.Transactions[0].AmountMinor)
	assert.Equal(t, int64(-4250), *page.Transactions[0].AmountMinor)
	assert.Equal(t, "dining", page.Transactions[0].CategoryCode)
	assert.False(t, page.Transactions[0].Date.IsZero())

	page, err = adapter.FetchTransactions(ctx, conn, "ext_1", page.NextCursor, false)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Empty(t, page.NextCursor)
	assert.True(t, page.Transactions[0].Pending)
	assert.Equal(t, 2, calls)
}

func TestSandbank_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, "", KindDisconnected},
		{"forbidden", http.StatusForbidden, "", KindDisconnected},
		{"rate limited", http.StatusTooManyRequests, "12", KindRateLimited},
		{"server error", http.StatusInternalServerError, "", KindTransient},
		{"teapot", http.StatusTeapot, "", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			adapter := NewSandbank()
			adapter.SetBaseURL(srv.URL)

			_, err := adapter.FetchAccounts(context.Background(), sandbankConn())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, Classify(err))
			if tt.wantKind == KindRateLimited {
				assert.Equal(t, "12s", RetryAfter(err).String())
			}
		})
	}
}

func TestSandbank_MissingToken(t *testing.T) {
	adapter := NewSandbank()
	conn := sandbankConn()
	conn.AccessToken = nil

	_, err := adapter.FetchAccounts(context.Background(), conn)
	require.Error(t, err)
	assert.Equal(t, KindDisconnected, Classify(err))
}

func TestSandbank_Healthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
	}))
	defer srv.Close()

	adapter := NewSandbank()
	adapter.SetBaseURL(srv.URL)
	require.NoError(t, adapter.Healthcheck(context.Background()))

	srv.Close() // provider gone
	err := adapter.Healthcheck(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindTransient, Classify(err))
}

func TestSandbank_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	adapter := NewSandbank()
	adapter.SetBaseURL(srv.URL)

	_, err := adapter.FetchAccounts(context.Background(), sandbankConn())
	require.Error(t, err)
	assert.Equal(t, KindTransient, Classify(err))
}
