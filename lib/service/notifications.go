package service

import (
	"context"
	"strings"
	"time"

	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/mailer"
)

const emailDateFormat = "January 2, 2006 15:04 MST"

func (svc *InvoiceHubService) notificationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := svc.Config.NotificationTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (svc *InvoiceHubService) sendMail(ctx context.Context, msg mailer.Message, err error) {
	if err != nil {
		svc.Logger.Errorf("Failed to render email to:%s error:%v", msg.To, err)
		return
	}
	if err := svc.Mailer.Send(ctx, msg); err != nil {
		svc.Logger.Errorf("Failed to send email to:%s subject:%q error:%v", msg.To, msg.Subject, err)
	}
}

func merchantName(user *models.User) string {
	if user != nil && user.Name != "" {
		return user.Name
	}
	return "the merchant"
}

// notifyPayment emails payer and merchant about a committed credit.
func (svc *InvoiceHubService) notifyPayment(ctx context.Context, result *SettleResult) {
	if svc.Mailer == nil || !result.Credited() {
		return
	}
	ctx, cancel := svc.notificationContext(ctx)
	defer cancel()

	invoice := result.Invoice
	merchant, err := svc.FindUser(ctx, invoice.UserID)
	if err != nil {
		svc.Logger.Errorf("Failed to load merchant for notification invoice_id:%s error:%v", invoice.ID, err)
	}
	payerName, payerEmail := result.payer()

	hashes := make([]string, 0, len(result.NewPayments))
	paidAt := result.NewPayments[0].PaidAt
	for _, p := range result.NewPayments {
		hashes = append(hashes, p.TransactionHash)
		if p.PaidAt.After(paidAt) {
			paidAt = p.PaidAt
		}
	}
	payLink := svc.Config.PayLink(invoice.ID)
	if result.Session != nil {
		payLink = svc.Config.CheckoutLink(result.Session.ID)
	}
	data := mailer.PaymentReceived{
		MerchantName:    merchantName(merchant),
		PayerName:       payerName,
		InvoiceID:       invoice.ID,
		Amount:          result.TotalPaid.String(),
		TotalPaid:       result.TotalWithNew.String(),
		TotalPrice:      result.TotalPrice.String(),
		Remaining:       result.Remaining().String(),
		Symbol:          svc.Asset.Symbol,
		Status:          result.Status,
		TransactionHash: strings.Join(hashes, ", "),
		PaidAt:          paidAt.Format(emailDateFormat),
		PayLink:         payLink,
		FullyPaid:       result.FullyPaid(),
	}

	if payerEmail != "" {
		msg, err := mailer.PayerPaymentMessage(payerEmail, data)
		svc.sendMail(ctx, msg, err)
	}
	if merchant != nil && merchant.Email != "" {
		msg, err := mailer.MerchantPaymentMessage(merchant.Email, data)
		svc.sendMail(ctx, msg, err)
	}
}

// notifyInvoiceIssued sends the pay link of a freshly issued one-time invoice.
func (svc *InvoiceHubService) notifyInvoiceIssued(ctx context.Context, invoice *models.Invoice) {
	if svc.Mailer == nil || invoice.Email == "" || invoice.IsMultiUse() {
		return
	}
	ctx, cancel := svc.notificationContext(context.WithoutCancel(ctx))
	defer cancel()

	merchant, err := svc.FindUser(ctx, invoice.UserID)
	if err != nil {
		svc.Logger.Errorf("Failed to load merchant for notification invoice_id:%s error:%v", invoice.ID, err)
	}
	dueDate := ""
	if !invoice.DueDate.IsZero() {
		dueDate = invoice.DueDate.Time.UTC().Format("January 2, 2006")
	}
	msg, err := mailer.InvoiceIssuedMessage(invoice.Email, mailer.InvoiceIssued{
		MerchantName: merchantName(merchant),
		InvoiceID:    invoice.ID,
		DueDate:      dueDate,
		Amount:       invoice.TotalPrice().String(),
		Symbol:       svc.Asset.Symbol,
		PayLink:      svc.Config.PayLink(invoice.ID),
	})
	svc.sendMail(ctx, msg, err)
}
