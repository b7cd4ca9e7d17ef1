package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type InvoiceParams struct {
	Name              string
	Email             string
	DueDate           *time.Time
	PaymentCollection string
	Items             []models.InvoiceItem
	// Draft keeps the invoice editable and unpayable
	Draft bool
}

func (p *InvoiceParams) validate() error {
	if p.PaymentCollection == "" {
		p.PaymentCollection = common.PaymentCollectionOneTime
	}
	if p.PaymentCollection != common.PaymentCollectionOneTime && p.PaymentCollection != common.PaymentCollectionMultiUse {
		return fmt.Errorf("%w: unknown payment collection %q", ErrInvalidInvoice, p.PaymentCollection)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInvoice)
	}
	for _, item := range p.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: item name is required", ErrInvalidInvoice)
		}
		if !item.Price.IsPositive() {
			return fmt.Errorf("%w: item %q must have a positive price", ErrInvalidInvoice, item.Name)
		}
	}
	return nil
}

func (p *InvoiceParams) apply(invoice *models.Invoice) {
	invoice.Name = p.Name
	invoice.Email = p.Email
	invoice.PaymentCollection = p.PaymentCollection
	invoice.Items = p.Items
	invoice.DueDate = bun.NullTime{}
	if p.DueDate != nil {
		invoice.DueDate = bun.NullTime{Time: p.DueDate.UTC()}
	}
}

type MutationKind string

const (
	// MutationAmend edits a draft in place, or replaces an issued invoice with a new version
	MutationAmend MutationKind = "amend"
	// MutationVoid closes an issued invoice for good
	MutationVoid MutationKind = "void"
)

type InvoiceMutation struct {
	Kind   MutationKind
	Params InvoiceParams
}

func (svc *InvoiceHubService) CreateInvoice(ctx context.Context, userID string, params InvoiceParams) (*models.Invoice, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	invoice := &models.Invoice{
		ID:           uuid.NewString(),
		UserID:       userID,
		PaymentAsset: svc.Asset.ID,
		Status:       common.InvoiceStatusOutstanding,
		CreatedAt:    svc.now(),
	}
	params.apply(invoice)
	if params.Draft {
		invoice.Status = common.InvoiceStatusDraft
	}

	// provision before the insert, a provider failure must not leave an unpayable invoice behind
	if !params.Draft && !invoice.IsMultiUse() {
		if err := svc.attachWallet(ctx, invoice); err != nil {
			return nil, err
		}
	}
	if _, err := svc.DB.NewInsert().Model(invoice).Exec(ctx); err != nil {
		return nil, err
	}
	svc.Logger.Infof("Created invoice invoice_id:%s user_id:%s collection:%s status:%s total:%s",
		invoice.ID, userID, invoice.PaymentCollection, invoice.Status, invoice.TotalPrice())

	if invoice.Status != common.InvoiceStatusDraft {
		svc.listen(ctx, invoice.WalletAddress)
		svc.notifyInvoiceIssued(ctx, invoice)
	}
	return invoice, nil
}

func (svc *InvoiceHubService) attachWallet(ctx context.Context, invoice *models.Invoice) error {
	handle, err := svc.CreateWallet(ctx)
	if err != nil {
		return err
	}
	invoice.WalletID = handle.ID
	invoice.WalletAddress = handle.Address
	invoice.WalletSeed = handle.EncryptedSeed
	return nil
}

// FindInvoice loads an invoice without any ownership check.
func (svc *InvoiceHubService) FindInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := svc.DB.NewSelect().Model(&invoice).Where("id = ?", invoiceID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// GetInvoice is the payer view, including the ledger.
func (svc *InvoiceHubService) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := svc.DB.NewSelect().
		Model(&invoice).
		Relation("Payments", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("paid_at ASC")
		}).
		Where("invoice.id = ?", invoiceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (svc *InvoiceHubService) findUserInvoice(ctx context.Context, userID, invoiceID string) (*models.Invoice, error) {
	invoice, err := svc.FindInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.UserID != userID {
		return nil, ErrInvoiceNotFound
	}
	return invoice, nil
}

// ListInvoices pages through a merchant's invoices, newest first. page starts at 1.
func (svc *InvoiceHubService) ListInvoices(ctx context.Context, userID string, page, limit int) ([]models.Invoice, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	invoices := []models.Invoice{}
	count, err := svc.DB.NewSelect().
		Model(&invoices).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return invoices, count, nil
}

type InvoiceStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

func (svc *InvoiceHubService) InvoiceStats(ctx context.Context, userID string) (*InvoiceStats, error) {
	rows := []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}{}
	err := svc.DB.NewSelect().
		Model((*models.Invoice)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	stats := &InvoiceStats{ByStatus: map[string]int{}}
	for _, status := range common.InvoiceStatuses {
		stats.ByStatus[status] = 0
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}
	return stats, nil
}

// InvoicePayments lists the ledger of a one-time invoice, or the latest payment of every
// checkout session of a multi-use invoice.
func (svc *InvoiceHubService) InvoicePayments(ctx context.Context, userID, invoiceID string) ([]models.PaymentSnapshot, error) {
	invoice, err := svc.findUserInvoice(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	result := []models.PaymentSnapshot{}
	if invoice.IsMultiUse() {
		sessions := []models.CheckoutSession{}
		err = svc.DB.NewSelect().
			Model(&sessions).
			Where("invoice_id = ?", invoice.ID).
			Where("payment IS NOT NULL").
			Order("created_at ASC").
			Scan(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			if s.Payment != nil {
				result = append(result, *s.Payment)
			}
		}
		return result, nil
	}

	payments := []models.Payment{}
	err = svc.DB.NewSelect().Model(&payments).Where("invoice_id = ?", invoice.ID).Order("paid_at ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		result = append(result, *payments[i].Snapshot())
	}
	return result, nil
}

// MutateInvoice applies a merchant edit. The returned invoice is the current version, which is a
// new row when an issued invoice was amended.
func (svc *InvoiceHubService) MutateInvoice(ctx context.Context, userID, invoiceID string, mutation InvoiceMutation) (*models.Invoice, error) {
	invoice, err := svc.findUserInvoice(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	switch mutation.Kind {
	case MutationVoid:
		return svc.voidInvoice(ctx, invoice)
	case MutationAmend:
		if err := mutation.Params.validate(); err != nil {
			return nil, err
		}
		if invoice.Status == common.InvoiceStatusDraft {
			return svc.amendDraft(ctx, invoice, mutation.Params)
		}
		return svc.amendIssued(ctx, invoice, mutation.Params)
	default:
		return nil, fmt.Errorf("%w: unknown mutation %q", ErrInvalidInvoice, mutation.Kind)
	}
}

func (svc *InvoiceHubService) voidInvoice(ctx context.Context, invoice *models.Invoice) (*models.Invoice, error) {
	var sessionAddresses []string
	err := svc.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		locked, err := svc.lockInvoice(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		switch locked.Status {
		case common.InvoiceStatusDraft, common.InvoiceStatusPaid, common.InvoiceStatusVoid:
			return fmt.Errorf("%w: %s invoice can not be voided", ErrNotEditable, locked.Status)
		}
		locked.Status = common.InvoiceStatusVoid
		if _, err := tx.NewUpdate().Model(locked).Column("status", "updated_at").WherePK().Exec(ctx); err != nil {
			return err
		}
		if locked.IsMultiUse() {
			err = tx.NewSelect().
				Model((*models.CheckoutSession)(nil)).
				Column("wallet_address").
				Where("invoice_id = ?", locked.ID).
				Where("status != ?", common.SessionStatusPaid).
				Scan(ctx, &sessionAddresses)
			if err != nil {
				return err
			}
		}
		*invoice = *locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	svc.Logger.Infof("Voided invoice invoice_id:%s", invoice.ID)

	svc.unlisten(ctx, invoice.WalletAddress)
	for _, address := range sessionAddresses {
		svc.unlisten(ctx, address)
	}
	return invoice, nil
}

func (svc *InvoiceHubService) amendDraft(ctx context.Context, invoice *models.Invoice, params InvoiceParams) (*models.Invoice, error) {
	params.apply(invoice)
	promote := !params.Draft
	if promote {
		invoice.Status = common.InvoiceStatusOutstanding
		if !invoice.IsMultiUse() && !invoice.HasWallet() {
			if err := svc.attachWallet(ctx, invoice); err != nil {
				return nil, err
			}
		}
	}
	res, err := svc.DB.NewUpdate().
		Model(invoice).
		Column("name", "email", "due_date", "payment_collection", "invoice_items", "status",
			"wallet_id", "wallet_address", "wallet_seed", "updated_at").
		WherePK().
		Where("status = ?", common.InvoiceStatusDraft).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("%w: invoice %s is no longer a draft", ErrNotEditable, invoice.ID)
	}
	if promote {
		svc.Logger.Infof("Issued draft invoice invoice_id:%s", invoice.ID)
		svc.listen(ctx, invoice.WalletAddress)
		svc.notifyInvoiceIssued(ctx, invoice)
	}
	return invoice, nil
}

// amendIssued replaces an issued, still unpaid invoice with a new version. The custodial wallet
// moves to the new version so a seed never lives on two rows.
func (svc *InvoiceHubService) amendIssued(ctx context.Context, invoice *models.Invoice, params InvoiceParams) (*models.Invoice, error) {
	if params.PaymentCollection != invoice.PaymentCollection {
		return nil, fmt.Errorf("%w: payment collection of an issued invoice is fixed", ErrNotEditable)
	}
	amended := &models.Invoice{}
	err := svc.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		old, err := svc.lockInvoice(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if old.Status != common.InvoiceStatusOutstanding && old.Status != common.InvoiceStatusOverdue {
			return fmt.Errorf("%w: %s invoice can not be amended", ErrNotEditable, old.Status)
		}
		payments, err := tx.NewSelect().Model((*models.Payment)(nil)).Where("invoice_id = ?", old.ID).Count(ctx)
		if err != nil {
			return err
		}
		sessions, err := tx.NewSelect().Model((*models.CheckoutSession)(nil)).Where("invoice_id = ?", old.ID).Count(ctx)
		if err != nil {
			return err
		}
		if payments > 0 || sessions > 0 {
			return fmt.Errorf("%w: invoice %s already received payments", ErrNotEditable, old.ID)
		}

		*amended = models.Invoice{
			ID:                uuid.NewString(),
			UserID:            old.UserID,
			PreviousVersionID: old.ID,
			PaymentAsset:      old.PaymentAsset,
			WalletID:          old.WalletID,
			WalletAddress:     old.WalletAddress,
			WalletSeed:        old.WalletSeed,
			CreatedAt:         svc.now(),
		}
		params.apply(amended)
		if amended.DueDate.IsZero() || amended.DueDate.After(svc.now()) {
			amended.Status = common.InvoiceStatusOutstanding
		} else {
			amended.Status = common.InvoiceStatusOverdue
		}

		// clear first, wallet_address lookups must only ever find one row
		old.Status = common.InvoiceStatusVoid
		old.WalletID, old.WalletAddress, old.WalletSeed = "", "", ""
		_, err = tx.NewUpdate().
			Model(old).
			Column("status", "wallet_id", "wallet_address", "wallet_seed", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(amended).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	svc.Logger.Infof("Amended invoice invoice_id:%s new_invoice_id:%s", invoice.ID, amended.ID)

	svc.listen(ctx, amended.WalletAddress)
	svc.notifyInvoiceIssued(ctx, amended)
	return amended, nil
}
