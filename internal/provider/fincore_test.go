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

func fincoreConn() *models.Connection {
	token := "tok-fincore"
	return &models.Connection{
		ID:          "conn-2",
		TenantID:    "tenant-1",
		Provider:    models.ProviderFincore,
		AccessToken: &token,
	}
}

func TestFincore_FetchTransactions_PageNumbers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions", r.URL.Path)
		assert.Equal(t, "ext_9", r.URL.Query().Get("account_id"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"transactions":[
				{"transaction_id":"ft_1","amount":"19.99","currency":"EUR","booked_at":"2026-03-01T10:00:00Z","reference":"SUB","category_code":"CAT-1002","state":"booked"}
			],"page":1,"total_pages":2}`))
		case "2":
			w.Write([]byte(`{"transactions":[
				{"transaction_id":"ft_2","amount":"-500.00","currency":"EUR","booked_at":"2026-03-02T10:00:00Z","reference":"PAYROLL","category_code":"CAT-3001","state":"pending"}
			],"page":2,"total_pages":2}`))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	adapter := NewFincore("cid", "secret")
	adapter.SetBaseURL(srv.URL)
	ctx := context.Background()
	conn := fincoreConn()

	page, err := adapter.FetchTransactions(ctx, conn, "ext_9", "", true)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "2", page.NextCursor)
	assert.Equal(t, "19.99", page.Transactions[0].Amount)
	assert.Equal(t, "CAT-1002", page.Transactions[0].CategoryCode)

	page, err = adapter.FetchTransactions(ctx, conn, "ext_9", page.NextCursor, true)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Empty(t, page.NextCursor)
	assert.True(t, page.Transactions[0].Pending)
}

func TestFincore_BadCursor(t *testing.T) {
	adapter := NewFincore("cid", "secret")
	_, err := adapter.FetchTransactions(context.Background(), fincoreConn(), "ext_9", "not-a-page", false)
	require.Error(t, err)
}

func TestFincore_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := NewFincore("cid", "secret")
	adapter.SetBaseURL(srv.URL)

	_, err := adapter.FetchAccounts(context.Background(), fincoreConn())
	require.Error(t, err)
	assert.Equal(t, KindDisconnected, Classify(err))
}

func TestFincore_RefreshAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	adapter := NewFincore("cid", "secret")
	adapter.SetBaseURL(srv.URL)

	result, err := adapter.RefreshAccessToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", result.AccessToken)
	assert.Equal(t, "new-refresh", result.RefreshToken)
	assert.False(t, result.ExpiresAt.IsZero())
}

func TestFincore_RefreshFailureIsDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	adapter := NewFincore("cid", "secret")
	adapter.SetBaseURL(srv.URL)

	_, err := adapter.RefreshAccessToken(context.Background(), "revoked")
	require.Error(t, err)
	assert.Equal(t, KindDisconnected, Classify(err))
}
