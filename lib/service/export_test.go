package service

import "context"

func (svc *InvoiceHubService) SettleActivity(ctx context.Context, invoiceID, sessionID string, transfers []IncomingTransfer) (*ActivityResult, error) {
	return svc.settleActivity(ctx, invoiceID, sessionID, transfers)
}
