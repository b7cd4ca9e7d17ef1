package cdp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// APIError is a non 2xx answer from the provider.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cdp: status %d code %s: %s", e.StatusCode, e.Code, e.Message)
}

// retryable tells whether the call can be sent again. A request that may have been processed is only
// resent when the provider can deduplicate it.
func (e *APIError) retryable(retrySafe bool) bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return retrySafe && e.StatusCode >= 500
}

// IdempotencyHeader carries the key the provider deduplicates a POST on.
const IdempotencyHeader = "X-Idempotency-Key"

// dialError reports a failure to connect, the request never left.
func dialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

type RESTClient struct {
	baseURL    *url.URL
	signer     *keySigner
	httpClient *http.Client
	maxRetries uint64
}

func NewRESTClient(c *Config) (*RESTClient, error) {
	base, err := url.Parse(c.APIURL)
	if err != nil {
		return nil, fmt.Errorf("parsing CDP_API_URL: %w", err)
	}
	signer, err := newKeySigner(c.APIKeyName, c.APIPrivateKey)
	if err != nil {
		return nil, err
	}
	return &RESTClient{
		baseURL:    base,
		signer:     signer,
		httpClient: &http.Client{Timeout: c.RequestTimeout},
		maxRetries: c.MaxRetries,
	}, nil
}

// wire types

type walletResponse struct {
	ID             string `json:"id"`
	NetworkID      string `json:"network_id"`
	DefaultAddress struct {
		AddressID string `json:"address_id"`
	} `json:"default_address"`
}

func (w *walletResponse) toWallet() *Wallet {
	return &Wallet{ID: w.ID, NetworkID: w.NetworkID, DefaultAddress: w.DefaultAddress.AddressID}
}

type exportResponse struct {
	Seed string `json:"seed"`
}

type transactionList struct {
	Data []struct {
		TransactionHash string `json:"transaction_hash"`
		Status          string `json:"status"`
		BlockTimestamp  string `json:"block_timestamp"`
		Content         struct {
			TokenTransfers []struct {
				ContractAddress string `json:"contract_address"`
				FromAddress     string `json:"from_address"`
				ToAddress       string `json:"to_address"`
				Value           string `json:"value"`
				LogIndex        int    `json:"log_index"`
			} `json:"token_transfers"`
		} `json:"content"`
	} `json:"data"`
}

// parseBlockTime returns the zero time for transactions not mined yet.
func parseBlockTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

type balanceResponse struct {
	Amount string `json:"amount"`
}

type transferBody struct {
	NetworkID   string `json:"network_id"`
	AssetID     string `json:"asset_id"`
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
	Gasless     bool   `json:"gasless"`
	WalletSeed  string `json:"wallet_seed"`
}

type transferResponse struct {
	TransferID      string `json:"transfer_id"`
	Status          string `json:"status"`
	TransactionHash string `json:"transaction_hash"`
}

func (t *transferResponse) toTransfer() *Transfer {
	return &Transfer{ID: t.TransferID, Status: t.Status, TransactionHash: t.TransactionHash}
}

type webhookFilter struct {
	Addresses []string `json:"addresses"`
	WalletID  string   `json:"wallet_id,omitempty"`
}

type webhookBody struct {
	ID              string        `json:"id,omitempty"`
	NetworkID       string        `json:"network_id"`
	EventType       string        `json:"event_type"`
	NotificationURI string        `json:"notification_uri"`
	EventTypeFilter webhookFilter `json:"event_type_filter"`
}

func fromWebhook(w Webhook) webhookBody {
	filter := webhookFilter{Addresses: w.Addresses}
	if len(w.Addresses) > 0 {
		filter.WalletID = w.Addresses[0]
	}
	return webhookBody{
		ID:              w.ID,
		NetworkID:       w.NetworkID,
		EventType:       w.EventType,
		NotificationURI: w.NotificationURI,
		EventTypeFilter: filter,
	}
}

func (w *webhookBody) toWebhook() *Webhook {
	return &Webhook{
		ID:              w.ID,
		NetworkID:       w.NetworkID,
		EventType:       w.EventType,
		NotificationURI: w.NotificationURI,
		Addresses:       w.EventTypeFilter.Addresses,
	}
}

type webhookList struct {
	Data []webhookBody `json:"data"`
}

// WalletAPI

func (client *RESTClient) CreateWallet(ctx context.Context, networkID string) (*ExportedWallet, error) {
	created := walletResponse{}
	body := map[string]interface{}{"wallet": map[string]string{"network_id": networkID}}
	if err := client.Request(ctx, http.MethodPost, "/platform/v1/wallets", body, &created); err != nil {
		return nil, err
	}
	exported := exportResponse{}
	exportPath := fmt.Sprintf("/platform/v1/wallets/%s/export", url.PathEscape(created.ID))
	if err := client.request(ctx, http.MethodPost, exportPath, nil, &exported, "export-"+created.ID); err != nil {
		return nil, err
	}
	if exported.Seed == "" {
		return nil, fmt.Errorf("cdp: wallet %s exported without seed", created.ID)
	}
	return &ExportedWallet{Wallet: *created.toWallet(), Seed: exported.Seed}, nil
}

func (client *RESTClient) ImportWallet(ctx context.Context, walletID, seed string) (*Wallet, error) {
	if seed == "" {
		return nil, fmt.Errorf("cdp: missing seed for wallet %s", walletID)
	}
	w := walletResponse{}
	if err := client.Request(ctx, http.MethodGet, fmt.Sprintf("/platform/v1/wallets/%s", url.PathEscape(walletID)), nil, &w); err != nil {
		return nil, err
	}
	return w.toWallet(), nil
}

func (client *RESTClient) ListTransactions(ctx context.Context, networkID, address string, limit int) ([]Transaction, error) {
	list := transactionList{}
	path := fmt.Sprintf("/platform/v1/networks/%s/addresses/%s/transactions?limit=%s",
		url.PathEscape(networkID), url.PathEscape(address), strconv.Itoa(limit))
	if err := client.Request(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	result := make([]Transaction, 0, len(list.Data))
	for _, tx := range list.Data {
		transfers := make([]TokenTransfer, 0, len(tx.Content.TokenTransfers))
		for _, tt := range tx.Content.TokenTransfers {
			transfers = append(transfers, TokenTransfer{
				ContractAddress: tt.ContractAddress,
				FromAddress:     tt.FromAddress,
				ToAddress:       tt.ToAddress,
				Value:           tt.Value,
				LogIndex:        tt.LogIndex,
			})
		}
		result = append(result, Transaction{
			Hash:           tx.TransactionHash,
			Status:         tx.Status,
			BlockTime:      parseBlockTime(tx.BlockTimestamp),
			TokenTransfers: transfers,
		})
	}
	return result, nil
}

func (client *RESTClient) Balance(ctx context.Context, networkID, address, assetID string) (string, error) {
	balance := balanceResponse{}
	path := fmt.Sprintf("/platform/v1/networks/%s/addresses/%s/balances/%s",
		url.PathEscape(networkID), url.PathEscape(address), url.PathEscape(assetID))
	if err := client.Request(ctx, http.MethodGet, path, nil, &balance); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "0", nil
		}
		return "", err
	}
	return balance.Amount, nil
}

func (client *RESTClient) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	created := transferResponse{}
	path := fmt.Sprintf("/platform/v1/wallets/%s/addresses/%s/transfers", url.PathEscape(req.WalletID), url.PathEscape(req.Address))
	body := transferBody{
		NetworkID:   req.NetworkID,
		AssetID:     req.AssetID,
		Amount:      req.Amount,
		Destination: req.Destination,
		Gasless:     req.Gasless,
		WalletSeed:  req.Seed,
	}
	if err := client.request(ctx, http.MethodPost, path, body, &created, req.IdempotencyKey); err != nil {
		return nil, err
	}
	return created.toTransfer(), nil
}

func (client *RESTClient) GetTransfer(ctx context.Context, walletID, address, transferID string) (*Transfer, error) {
	t := transferResponse{}
	path := fmt.Sprintf("/platform/v1/wallets/%s/addresses/%s/transfers/%s",
		url.PathEscape(walletID), url.PathEscape(address), url.PathEscape(transferID))
	if err := client.Request(ctx, http.MethodGet, path, nil, &t); err != nil {
		return nil, err
	}
	return t.toTransfer(), nil
}

// WebhookAPI

func (client *RESTClient) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	list := webhookList{}
	if err := client.Request(ctx, http.MethodGet, "/platform/v1/webhooks", nil, &list); err != nil {
		return nil, err
	}
	result := make([]Webhook, 0, len(list.Data))
	for i := range list.Data {
		result = append(result, *list.Data[i].toWebhook())
	}
	return result, nil
}

func (client *RESTClient) CreateWebhook(ctx context.Context, webhook Webhook) (*Webhook, error) {
	created := webhookBody{}
	if err := client.Request(ctx, http.MethodPost, "/platform/v1/webhooks", fromWebhook(webhook), &created); err != nil {
		return nil, err
	}
	return created.toWebhook(), nil
}

func (client *RESTClient) UpdateWebhook(ctx context.Context, webhook Webhook) (*Webhook, error) {
	updated := webhookBody{}
	path := fmt.Sprintf("/platform/v1/webhooks/%s", url.PathEscape(webhook.ID))
	if err := client.Request(ctx, http.MethodPut, path, fromWebhook(webhook), &updated); err != nil {
		return nil, err
	}
	return updated.toWebhook(), nil
}

func (client *RESTClient) DeleteWebhook(ctx context.Context, id string) error {
	return client.Request(ctx, http.MethodDelete, fmt.Sprintf("/platform/v1/webhooks/%s", url.PathEscape(id)), nil, nil)
}

// Request signs and sends one call. Throttling is always retried; timeouts and server errors only
// for methods that are safe to repeat.
func (client *RESTClient) Request(ctx context.Context, method, endpoint string, body interface{}, response interface{}) error {
	return client.request(ctx, method, endpoint, body, response, "")
}

func (client *RESTClient) request(ctx context.Context, method, endpoint string, body interface{}, response interface{}, idempotencyKey string) error {
	retrySafe := method != http.MethodPost || idempotencyKey != ""
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	target := client.baseURL.ResolveReference(ref)

	operation := func() error {
		token, err := client.signer.bearer(method, target.Host, target.Path)
		if err != nil {
			return backoff.Permanent(err)
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			httpReq.Header.Set(IdempotencyHeader, idempotencyKey)
		}
		resp, err := client.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil || !(retrySafe || dialError(err)) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			msg, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(msg, apiErr) != nil || apiErr.Message == "" {
				apiErr.Message = string(msg)
			}
			if apiErr.retryable(retrySafe) {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if response == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return backoff.Permanent(fmt.Errorf("cdp: decoding %s %s: %w", method, target.Path, err))
		}
		return nil
	}

	expontentialBackoff := backoff.NewExponentialBackOff()
	expontentialBackoff.InitialInterval = 200 * time.Millisecond
	expontentialBackoff.MaxInterval = 5 * time.Second
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expontentialBackoff, client.maxRetries), ctx))
}

var _ Client = (*RESTClient)(nil)
