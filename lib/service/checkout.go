package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/google/uuid"
)

// CreateCheckoutSession opens a payer specific session with its own wallet on a multi-use invoice.
// A payer email can only hold one session per invoice.
func (svc *InvoiceHubService) CreateCheckoutSession(ctx context.Context, invoiceID, name, email string) (*models.CheckoutSession, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	invoice, err := svc.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.IsMultiUse() {
		return nil, ErrNotMultiUse
	}
	if !invoice.Payable() || invoice.Status == common.InvoiceStatusPaid {
		return nil, ErrNotPayable
	}
	exists, err := svc.DB.NewSelect().
		Model((*models.CheckoutSession)(nil)).
		Where("invoice_id = ?", invoice.ID).
		Where("email = ?", email).
		Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrSessionConflict
	}

	handle, err := svc.CreateWallet(ctx)
	if err != nil {
		return nil, err
	}
	now := svc.now()
	session := &models.CheckoutSession{
		ID:            uuid.NewString(),
		InvoiceID:     invoice.ID,
		Name:          name,
		Email:         email,
		Status:        common.SessionStatusOutstanding,
		WalletID:      handle.ID,
		WalletAddress: handle.Address,
		WalletSeed:    handle.EncryptedSeed,
		ExpiresAt:     now.Add(svc.Config.CheckoutSessionTTL),
		CreatedAt:     now,
	}
	if _, err := svc.DB.NewInsert().Model(session).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSessionConflict
		}
		return nil, err
	}
	svc.Logger.Infof("Created checkout session session_id:%s invoice_id:%s address:%s", session.ID, invoice.ID, session.WalletAddress)

	svc.listen(ctx, session.WalletAddress)
	session.Invoice = invoice
	return session, nil
}

func (svc *InvoiceHubService) GetCheckoutSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := svc.DB.NewSelect().
		Model(&session).
		Relation("Invoice").
		Where("checkout_session.id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}
