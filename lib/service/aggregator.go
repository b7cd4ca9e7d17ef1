package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/shopspring/decimal"
)

// IncomingTransfer is one candidate credit, already converted from base units.
type IncomingTransfer struct {
	TransactionHash string
	Amount          decimal.Decimal
	PaidAt          time.Time
}

// aggregateTransfers merges transfers sharing a transaction hash, keeping first-seen order.
// Zero amounts are dropped.
func aggregateTransfers(transfers []IncomingTransfer) []IncomingTransfer {
	result := []IncomingTransfer{}
	index := map[string]int{}
	for _, t := range transfers {
		hash := normalizeHash(t.TransactionHash)
		if hash == "" || !t.Amount.IsPositive() {
			continue
		}
		if i, ok := index[hash]; ok {
			result[i].Amount = result[i].Amount.Add(t.Amount)
			if t.PaidAt.After(result[i].PaidAt) {
				result[i].PaidAt = t.PaidAt
			}
			continue
		}
		index[hash] = len(result)
		result = append(result, IncomingTransfer{TransactionHash: hash, Amount: t.Amount, PaidAt: t.PaidAt})
	}
	return result
}

// pollTransfers lists the recent completed asset transfers into address.
func (svc *InvoiceHubService) pollTransfers(ctx context.Context, address string) ([]IncomingTransfer, error) {
	txs, err := svc.Wallets.ListTransactions(ctx, svc.Config.NetworkID, address, svc.Config.StatusCheckTransactionLimit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions of %s: %w", address, err)
	}
	transfers := []IncomingTransfer{}
	for _, tx := range txs {
		if tx.Status != common.TransactionStatusComplete {
			continue
		}
		paidAt := tx.BlockTime.UTC()
		if paidAt.IsZero() {
			paidAt = svc.now()
		}
		for _, tt := range tx.TokenTransfers {
			if !svc.Asset.IsContract(tt.ContractAddress) || !strings.EqualFold(tt.ToAddress, address) {
				continue
			}
			amount, err := svc.Asset.FromBaseUnits(tt.Value)
			if err != nil {
				svc.Logger.Warnf("Skipping transfer with bad value tx_hash:%s value:%s error:%v", tx.Hash, tt.Value, err)
				continue
			}
			transfers = append(transfers, IncomingTransfer{TransactionHash: tx.Hash, Amount: amount, PaidAt: paidAt})
		}
	}
	return aggregateTransfers(transfers), nil
}
