package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getAlby/invoicehub.go/db/models"
)

// FlexibleString decodes a JSON string or number into its literal text.
type FlexibleString string

func (f *FlexibleString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexibleString(n.String())
	return nil
}

// WalletActivityEvent is the provider's push payload for one token transfer.
type WalletActivityEvent struct {
	WebhookID       string         `json:"webhookId"`
	EventType       string         `json:"eventType"`
	Network         string         `json:"network"`
	From            string         `json:"from"`
	To              string         `json:"to"`
	TransactionHash string         `json:"transactionHash"`
	Value           FlexibleString `json:"value"`
	ContractAddress string         `json:"contractAddress"`
	BlockTime       string         `json:"blockTime"`
	LogIndex        FlexibleString `json:"logIndex"`
}

func DecodeWalletActivity(raw []byte) (*WalletActivityEvent, error) {
	event := &WalletActivityEvent{}
	if err := json.Unmarshal(raw, event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return event, nil
}

type ActivityOutcome string

const (
	// ActivityIgnored is a transfer of another asset or network
	ActivityIgnored ActivityOutcome = "ignored"
	// ActivityUnmatched is a transfer to an address no invoice or session owns
	ActivityUnmatched ActivityOutcome = "unmatched"
	ActivityHandled   ActivityOutcome = "handled"
)

type ActivityResult struct {
	Outcome ActivityOutcome
	Settle  *SettleResult
}

func (svc *InvoiceHubService) paidAtFromEvent(blockTime string) time.Time {
	if blockTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, blockTime); err == nil {
			return t.UTC()
		}
	}
	return svc.now()
}

// HandleWalletActivity credits a pushed transfer to the invoice or checkout session owning the
// receiving address. Safe to call any number of times for one event.
func (svc *InvoiceHubService) HandleWalletActivity(ctx context.Context, event *WalletActivityEvent) (*ActivityResult, error) {
	if event.TransactionHash == "" || event.To == "" || event.Value == "" || event.ContractAddress == "" {
		return nil, fmt.Errorf("%w: transactionHash, to, value and contractAddress are required", ErrInvalidEvent)
	}
	if event.Network != "" && event.Network != svc.Config.NetworkID {
		svc.Logger.Infof("Ignoring activity of network:%s tx_hash:%s", event.Network, event.TransactionHash)
		return &ActivityResult{Outcome: ActivityIgnored}, nil
	}
	if !svc.Asset.IsContract(event.ContractAddress) {
		svc.Logger.Infof("Ignoring transfer of contract:%s tx_hash:%s", event.ContractAddress, event.TransactionHash)
		return &ActivityResult{Outcome: ActivityIgnored}, nil
	}
	amount, err := svc.Asset.FromBaseUnits(string(event.Value))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	transfers := []IncomingTransfer{{
		TransactionHash: event.TransactionHash,
		Amount:          amount,
		PaidAt:          svc.paidAtFromEvent(event.BlockTime),
	}}
	address := strings.ToLower(event.To)

	invoice := models.Invoice{}
	err = svc.DB.NewSelect().Model(&invoice).Column("id").Where("LOWER(wallet_address) = ?", address).Limit(1).Scan(ctx)
	switch {
	case err == nil:
		return svc.settleActivity(ctx, invoice.ID, "", transfers)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	session := models.CheckoutSession{}
	err = svc.DB.NewSelect().Model(&session).Column("id", "invoice_id").Where("LOWER(wallet_address) = ?", address).Limit(1).Scan(ctx)
	switch {
	case err == nil:
		return svc.settleActivity(ctx, session.InvoiceID, session.ID, transfers)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	svc.Logger.Infof("No invoice or session for address:%s tx_hash:%s", event.To, event.TransactionHash)
	return &ActivityResult{Outcome: ActivityUnmatched}, nil
}

// settleActivity credits the owner found by address. An owner removed since the lookup, such as a
// session purged after its TTL, makes the transfer unmatched.
func (svc *InvoiceHubService) settleActivity(ctx context.Context, invoiceID, sessionID string, transfers []IncomingTransfer) (*ActivityResult, error) {
	result, err := svc.SettlePayments(ctx, invoiceID, sessionID, transfers)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrInvoiceNotFound) {
		svc.Logger.Infof("Owner gone before settling invoice_id:%s session_id:%s tx_hash:%s",
			invoiceID, sessionID, transfers[0].TransactionHash)
		return &ActivityResult{Outcome: ActivityUnmatched}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ActivityResult{Outcome: ActivityHandled, Settle: result}, nil
}

// HandleQueuedWalletActivity is the rabbitmq consumer entry point for verified payloads.
func (svc *InvoiceHubService) HandleQueuedWalletActivity(ctx context.Context, raw []byte) error {
	event, err := DecodeWalletActivity(raw)
	if err != nil {
		// redelivery can not fix a broken payload
		svc.Logger.Errorf("Dropping queued wallet activity: %v", err)
		return nil
	}
	_, err = svc.HandleWalletActivity(ctx, event)
	if errors.Is(err, ErrInvalidEvent) {
		svc.Logger.Errorf("Dropping queued wallet activity tx_hash:%s: %v", event.TransactionHash, err)
		return nil
	}
	return err
}
