package service

import (
	"context"
	"fmt"

	"github.com/getAlby/invoicehub.go/common"
)

const (
	MessageAlreadyPaid   = "Already paid."
	MessageNoNewPayments = "No new payments found."
	MessageNotPayable    = "Invoice is not payable."
)

type PaymentCheck struct {
	Message string
	Settle  *SettleResult
}

func paymentFoundMessage(count int) string {
	return fmt.Sprintf("Payment found. %d new payment(s) credited.", count)
}

// CheckPayment polls the custodial wallet of an invoice (or of a checkout session when
// checkoutID is set) and credits transfers the webhook path has not delivered yet.
func (svc *InvoiceHubService) CheckPayment(ctx context.Context, invoiceID, checkoutID string) (*PaymentCheck, error) {
	var (
		walletAddress string
		sessionID     string
	)
	if checkoutID != "" {
		session, err := svc.GetCheckoutSession(ctx, checkoutID)
		if err != nil {
			return nil, err
		}
		if invoiceID != "" && invoiceID != session.InvoiceID {
			return nil, ErrSessionNotFound
		}
		invoiceID, sessionID = session.InvoiceID, session.ID
		if !session.HasWallet() {
			return nil, ErrWalletMissing
		}
		if session.Invoice != nil && !session.Invoice.Payable() {
			return &PaymentCheck{Message: MessageNotPayable}, nil
		}
		if session.Status == common.SessionStatusPaid {
			return &PaymentCheck{Message: MessageAlreadyPaid}, nil
		}
		walletAddress = session.WalletAddress
	} else {
		invoice, err := svc.FindInvoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		if !invoice.Payable() {
			return &PaymentCheck{Message: MessageNotPayable}, nil
		}
		if invoice.Status == common.InvoiceStatusPaid {
			return &PaymentCheck{Message: MessageAlreadyPaid}, nil
		}
		if !invoice.HasWallet() {
			return nil, ErrWalletMissing
		}
		walletAddress = invoice.WalletAddress
	}

	transfers, err := svc.pollTransfers(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	result, err := svc.SettlePayments(ctx, invoiceID, sessionID, transfers)
	if err != nil {
		return nil, err
	}
	return &PaymentCheck{Message: checkMessage(result), Settle: result}, nil
}

func checkMessage(result *SettleResult) string {
	switch {
	case result.NotPayable:
		return MessageNotPayable
	case result.AlreadyPaid:
		return MessageAlreadyPaid
	case result.Credited():
		return paymentFoundMessage(len(result.NewPayments))
	default:
		return MessageNoNewPayments
	}
}
