package service

import (
	"context"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/uptrace/bun"
)

type ReconcileReport struct {
	Checked  int `json:"checked"`
	Credited int `json:"credited"`
	Failed   int `json:"failed"`
}

// ReconcileOutstanding polls every open one-time invoice and live checkout session once. It
// recovers transfers whose webhook never arrived, e.g. after a failed Listen.
func (svc *InvoiceHubService) ReconcileOutstanding(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	openStatuses := []string{common.InvoiceStatusOutstanding, common.InvoiceStatusOverdue, common.InvoiceStatusPartiallyPaid}

	invoices := []models.Invoice{}
	err := svc.DB.NewSelect().
		Model(&invoices).
		Column("id").
		Where("payment_collection = ?", common.PaymentCollectionOneTime).
		Where("status IN (?)", bun.In(openStatuses)).
		Where("wallet_address IS NOT NULL").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, invoice := range invoices {
		svc.reconcileOne(ctx, report, invoice.ID, "")
	}

	sessions := []models.CheckoutSession{}
	err = svc.DB.NewSelect().
		Model(&sessions).
		Column("id", "invoice_id").
		Where("status IN (?)", bun.In([]string{common.SessionStatusOutstanding, common.SessionStatusPartiallyPaid})).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		svc.reconcileOne(ctx, report, session.InvoiceID, session.ID)
	}

	svc.Logger.Infof("Reconciliation done checked:%d credited:%d failed:%d", report.Checked, report.Credited, report.Failed)
	return report, nil
}

func (svc *InvoiceHubService) reconcileOne(ctx context.Context, report *ReconcileReport, invoiceID, sessionID string) {
	report.Checked++
	check, err := svc.CheckPayment(ctx, invoiceID, sessionID)
	if err != nil {
		report.Failed++
		svc.Logger.Errorf("Reconciliation failed invoice_id:%s session_id:%s error:%v", invoiceID, sessionID, err)
		return
	}
	if check.Settle != nil && check.Settle.Credited() {
		report.Credited++
	}
}
