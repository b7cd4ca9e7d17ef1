package cdp

import (
	"context"
	"time"
)

const (
	TransferStatusPending   = "pending"
	TransferStatusBroadcast = "broadcast"
	TransferStatusComplete  = "complete"
	TransferStatusFailed    = "failed"
)

type Wallet struct {
	ID             string
	NetworkID      string
	DefaultAddress string
}

// ExportedWallet carries the plaintext seed; callers must encrypt it before persisting.
type ExportedWallet struct {
	Wallet
	Seed string
}

type TokenTransfer struct {
	ContractAddress string
	FromAddress     string
	ToAddress       string
	// Value in the token's smallest unit
	Value    string
	LogIndex int
}

type Transaction struct {
	Hash           string
	Status         string
	BlockTime      time.Time
	TokenTransfers []TokenTransfer
}

type TransferRequest struct {
	WalletID    string
	Address     string
	Seed        string
	NetworkID   string
	AssetID     string
	Amount      string
	Destination string
	Gasless     bool
	// IdempotencyKey makes a resent request return the transfer created by the first one
	IdempotencyKey string
}

type Transfer struct {
	ID              string
	Status          string
	TransactionHash string
}

func (t *Transfer) Terminal() bool {
	return t.Status == TransferStatusComplete || t.Status == TransferStatusFailed
}

type Webhook struct {
	ID              string
	NetworkID       string
	EventType       string
	NotificationURI string
	Addresses       []string
}

// WalletAPI is the custodial wallet surface the service needs.
type WalletAPI interface {
	CreateWallet(ctx context.Context, networkID string) (*ExportedWallet, error)
	ImportWallet(ctx context.Context, walletID, seed string) (*Wallet, error)
	ListTransactions(ctx context.Context, networkID, address string, limit int) ([]Transaction, error)
	Balance(ctx context.Context, networkID, address, assetID string) (string, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	GetTransfer(ctx context.Context, walletID, address, transferID string) (*Transfer, error)
}

// WebhookAPI manages the provider side activity subscriptions.
type WebhookAPI interface {
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	CreateWebhook(ctx context.Context, webhook Webhook) (*Webhook, error)
	UpdateWebhook(ctx context.Context, webhook Webhook) (*Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

type Client interface {
	WalletAPI
	WebhookAPI
}
