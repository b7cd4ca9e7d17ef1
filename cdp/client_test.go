package cdp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) (string, *ecdsa.PrivateKey) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), key
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*RESTClient, *ecdsa.PrivateKey) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	pemKey, key := testKeyPEM(t)
	client, err := NewRESTClient(&Config{
		APIURL:         server.URL,
		APIKeyName:     "organizations/org/apiKeys/key",
		APIPrivateKey:  pemKey,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     3,
	})
	require.NoError(t, err)
	return client, key
}

func TestRequestIsSignedPerRequestLine(t *testing.T) {
	var claims jwt.MapClaims
	var key *ecdsa.PrivateKey
	var client *RESTClient
	client, key = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		token, err := jwt.Parse(auth, func(token *jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		})
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		claims = token.Claims.(jwt.MapClaims)
		assert.Equal(t, "organizations/org/apiKeys/key", token.Header["kid"])
		assert.NotEmpty(t, token.Header["nonce"])
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	})

	hooks, err := client.ListWebhooks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hooks)
	assert.Equal(t, "organizations/org/apiKeys/key", claims["sub"])
	assert.True(t, strings.HasPrefix(claims["uri"].(string), "GET 127.0.0.1:"))
	assert.True(t, strings.HasSuffix(claims["uri"].(string), "/platform/v1/webhooks"))
}

func TestRequestRetriesServerErrors(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"amount": "2500000"})
	})

	balance, err := client.Balance(context.Background(), "base-sepolia", "0xabc", "usdc")
	require.NoError(t, err)
	assert.Equal(t, "2500000", balance)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRequestDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"invalid_request","message":"bad filter"}`))
	})

	_, err := client.CreateWebhook(context.Background(), Webhook{NetworkID: "base-sepolia", EventType: "wallet_activity"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad filter", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestListTransactionsDecodesTokenTransfers(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/platform/v1/networks/base-sepolia/addresses/0xabc/transactions", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"data":[{"transaction_hash":"0xHASH","status":"COMPLETE","block_timestamp":"2024-10-01T12:00:00Z",
			"content":{"token_transfers":[{"contract_address":"0xc","from_address":"0xf","to_address":"0xabc","value":"1000000","log_index":3}]}}]}`))
	})

	txs, err := client.ListTransactions(context.Background(), "base-sepolia", "0xabc", 50)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "0xHASH", txs[0].Hash)
	assert.Equal(t, "COMPLETE", txs[0].Status)
	require.Len(t, txs[0].TokenTransfers, 1)
	assert.Equal(t, "1000000", txs[0].TokenTransfers[0].Value)
	assert.Equal(t, 3, txs[0].TokenTransfers[0].LogIndex)
}

func TestBalanceNotFoundIsZero(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	balance, err := client.Balance(context.Background(), "base-sepolia", "0xabc", "usdc")
	require.NoError(t, err)
	assert.Equal(t, "0", balance)
}

func newTimeoutClient(t *testing.T, handler http.HandlerFunc) *RESTClient {
	client, _ := newTestClient(t, handler)
	client.httpClient.Timeout = 100 * time.Millisecond
	return client
}

func TestPostWithoutKeyIsNotResentAfterTimeout(t *testing.T) {
	var calls int32
	client := newTimeoutClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "webhook-1"})
	})

	_, err := client.CreateWebhook(context.Background(), Webhook{NetworkID: "base-sepolia", EventType: "wallet_activity"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransferIsResentWithSameKey(t *testing.T) {
	var calls int32
	keys := make(chan string, 4)
	client := newTimeoutClient(t, func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get(IdempotencyHeader)
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		json.NewEncoder(w).Encode(map[string]string{"transfer_id": "t-1", "status": "broadcast"})
	})

	transfer, err := client.CreateTransfer(context.Background(), TransferRequest{
		WalletID:       "w",
		Address:        "0xabc",
		Amount:         "1000000",
		IdempotencyKey: "sweep-1-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "t-1", transfer.ID)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "sweep-1-key", <-keys)
	assert.Equal(t, "sweep-1-key", <-keys)
}

func TestPostIsNotResentOnServerError(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CreateWebhook(context.Background(), Webhook{NetworkID: "base-sepolia", EventType: "wallet_activity"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPostIsResentWhenThrottled(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "webhook-1"})
	})

	webhook, err := client.CreateWebhook(context.Background(), Webhook{NetworkID: "base-sepolia", EventType: "wallet_activity"})
	require.NoError(t, err)
	assert.Equal(t, "webhook-1", webhook.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPendingTransactionWithoutTimestamp(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"transaction_hash":"0xPENDING","status":"PENDING","block_timestamp":"","content":{"token_transfers":[]}},
			{"transaction_hash":"0xDONE","status":"COMPLETE","block_timestamp":"2024-10-01T12:00:00Z","content":{"token_transfers":[]}}]}`))
	})

	txs, err := client.ListTransactions(context.Background(), "base-sepolia", "0xabc", 50)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].BlockTime.IsZero())
	assert.Equal(t, time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC), txs[1].BlockTime.UTC())
}
