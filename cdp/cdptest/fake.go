package cdptest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getAlby/invoicehub.go/cdp"
)

// FakeClient is an in-memory custodial wallet provider.
type FakeClient struct {
	mu sync.Mutex

	wallets      map[string]cdp.ExportedWallet
	transactions map[string][]cdp.Transaction
	balances     map[string]string
	transfers    map[string]*cdp.Transfer
	transferKeys map[string]string
	webhooks     map[string]*cdp.Webhook

	CreatedTransfers []cdp.TransferRequest
	// status returned by GetTransfer for transfers that are not terminal yet
	TransferStatus string

	CreateWalletErr   error
	CreateTransferErr error
	// LoseTransferResponses makes the next n CreateTransfer calls create the transfer but fail the answer
	LoseTransferResponses int
	ListTxErr             error
	WebhookErr            error
	// WebhookLatency widens the read-modify-write window of webhook updates
	WebhookLatency time.Duration

	WebhookUpdates int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		wallets:        map[string]cdp.ExportedWallet{},
		transactions:   map[string][]cdp.Transaction{},
		balances:       map[string]string{},
		transfers:      map[string]*cdp.Transfer{},
		transferKeys:   map[string]string{},
		webhooks:       map[string]*cdp.Webhook{},
		TransferStatus: cdp.TransferStatusComplete,
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func (f *FakeClient) CreateWallet(ctx context.Context, networkID string) (*cdp.ExportedWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateWalletErr != nil {
		return nil, f.CreateWalletErr
	}
	w := cdp.ExportedWallet{
		Wallet: cdp.Wallet{
			ID:             "wallet-" + randomHex(8),
			NetworkID:      networkID,
			DefaultAddress: "0x" + strings.ToUpper(randomHex(20)[:2]) + randomHex(19),
		},
		Seed: randomHex(32),
	}
	f.wallets[w.ID] = w
	return &w, nil
}

func (f *FakeClient) ImportWallet(ctx context.Context, walletID, seed string) (*cdp.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("fake cdp: wallet %s not found", walletID)
	}
	if w.Seed != seed {
		return nil, fmt.Errorf("fake cdp: seed mismatch for wallet %s", walletID)
	}
	wallet := w.Wallet
	return &wallet, nil
}

// AddIncomingTransfer records a completed token transfer to address.
func (f *FakeClient) AddIncomingTransfer(address, contract, hash, value string) {
	f.AddTransaction(address, cdp.Transaction{
		Hash:      hash,
		Status:    "COMPLETE",
		BlockTime: time.Now().UTC(),
		TokenTransfers: []cdp.TokenTransfer{{
			ContractAddress: contract,
			FromAddress:     "0x" + randomHex(20),
			ToAddress:       address,
			Value:           value,
		}},
	})
}

func (f *FakeClient) AddTransaction(address string, tx cdp.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(address)
	// newest first, like the provider
	f.transactions[key] = append([]cdp.Transaction{tx}, f.transactions[key]...)
}

func (f *FakeClient) ListTransactions(ctx context.Context, networkID, address string, limit int) ([]cdp.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListTxErr != nil {
		return nil, f.ListTxErr
	}
	txs := f.transactions[strings.ToLower(address)]
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return append([]cdp.Transaction(nil), txs...), nil
}

func (f *FakeClient) SetBalance(address, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[strings.ToLower(address)] = value
}

func (f *FakeClient) Balance(ctx context.Context, networkID, address, assetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[strings.ToLower(address)]; ok {
		return b, nil
	}
	return "0", nil
}

func (f *FakeClient) CreateTransfer(ctx context.Context, req cdp.TransferRequest) (*cdp.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateTransferErr != nil {
		return nil, f.CreateTransferErr
	}
	if w, ok := f.wallets[req.WalletID]; !ok || w.Seed != req.Seed {
		return nil, fmt.Errorf("fake cdp: unknown wallet or bad seed %s", req.WalletID)
	}
	if id, ok := f.transferKeys[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		copied := *f.transfers[id]
		return &copied, nil
	}
	t := &cdp.Transfer{ID: "transfer-" + randomHex(8), Status: cdp.TransferStatusBroadcast, TransactionHash: "0x" + randomHex(32)}
	f.transfers[t.ID] = t
	if req.IdempotencyKey != "" {
		f.transferKeys[req.IdempotencyKey] = t.ID
	}
	f.CreatedTransfers = append(f.CreatedTransfers, req)
	if f.LoseTransferResponses > 0 {
		f.LoseTransferResponses--
		return nil, fmt.Errorf("fake cdp: timeout awaiting transfer %s response", t.ID)
	}
	copied := *t
	return &copied, nil
}

func (f *FakeClient) GetTransfer(ctx context.Context, walletID, address, transferID string) (*cdp.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transfers[transferID]
	if !ok {
		return nil, fmt.Errorf("fake cdp: transfer %s not found", transferID)
	}
	if !t.Terminal() {
		t.Status = f.TransferStatus
	}
	copied := *t
	return &copied, nil
}

func (f *FakeClient) Transfers() []cdp.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cdp.TransferRequest(nil), f.CreatedTransfers...)
}

func (f *FakeClient) ListWebhooks(ctx context.Context) ([]cdp.Webhook, error) {
	f.mu.Lock()
	if f.WebhookErr != nil {
		f.mu.Unlock()
		return nil, f.WebhookErr
	}
	result := make([]cdp.Webhook, 0, len(f.webhooks))
	for _, w := range f.webhooks {
		copied := *w
		copied.Addresses = append([]string(nil), w.Addresses...)
		result = append(result, copied)
	}
	latency := f.WebhookLatency
	f.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}
	return result, nil
}

func (f *FakeClient) CreateWebhook(ctx context.Context, webhook cdp.Webhook) (*cdp.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WebhookErr != nil {
		return nil, f.WebhookErr
	}
	webhook.ID = "webhook-" + randomHex(6)
	webhook.Addresses = append([]string(nil), webhook.Addresses...)
	f.webhooks[webhook.ID] = &webhook
	copied := webhook
	return &copied, nil
}

func (f *FakeClient) UpdateWebhook(ctx context.Context, webhook cdp.Webhook) (*cdp.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WebhookErr != nil {
		return nil, f.WebhookErr
	}
	existing, ok := f.webhooks[webhook.ID]
	if !ok {
		return nil, fmt.Errorf("fake cdp: webhook %s not found", webhook.ID)
	}
	existing.Addresses = append([]string(nil), webhook.Addresses...)
	existing.NotificationURI = webhook.NotificationURI
	f.WebhookUpdates++
	copied := *existing
	return &copied, nil
}

func (f *FakeClient) DeleteWebhook(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WebhookErr != nil {
		return f.WebhookErr
	}
	delete(f.webhooks, id)
	return nil
}

// WebhookAddresses returns the filter of the (network, event type) subscription, nil when absent.
func (f *FakeClient) WebhookAddresses(networkID, eventType string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.webhooks {
		if w.NetworkID == networkID && w.EventType == eventType {
			return append([]string(nil), w.Addresses...)
		}
	}
	return nil
}

func (f *FakeClient) WebhookCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.webhooks)
}

// SetWebhookErr swaps the injected webhook failure under the lock.
func (f *FakeClient) SetWebhookErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WebhookErr = err
}

var _ cdp.Client = (*FakeClient)(nil)
