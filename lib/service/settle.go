package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/rabbitmq"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// SettleResult describes what one settlement invocation changed.
type SettleResult struct {
	Invoice     *models.Invoice
	Session     *models.CheckoutSession
	AlreadyPaid bool
	NotPayable  bool
	NewPayments []models.Payment
	// TotalPaid is the sum of NewPayments
	TotalPaid decimal.Decimal
	// TotalWithNew is everything credited to the obligation, NewPayments included
	TotalWithNew decimal.Decimal
	TotalPrice   decimal.Decimal
	// Status is the resulting status of the session for multi-use invoices, of the invoice otherwise
	Status string
}

func (r *SettleResult) Credited() bool {
	return len(r.NewPayments) > 0
}

func (r *SettleResult) FullyPaid() bool {
	return r.Status == common.InvoiceStatusPaid
}

func (r *SettleResult) Remaining() decimal.Decimal {
	remaining := r.TotalPrice.Sub(r.TotalWithNew)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// creditedAddress is the custodial address that received the transfers.
func (r *SettleResult) creditedAddress() string {
	if r.Session != nil {
		return r.Session.WalletAddress
	}
	return r.Invoice.WalletAddress
}

func (r *SettleResult) payer() (name, email string) {
	if r.Session != nil {
		return r.Session.Name, r.Session.Email
	}
	return r.Invoice.Name, r.Invoice.Email
}

func (svc *InvoiceHubService) lockInvoice(ctx context.Context, tx bun.Tx, invoiceID string) (*models.Invoice, error) {
	invoice := &models.Invoice{}
	query := tx.NewSelect().Model(invoice).Where("id = ?", invoiceID)
	if svc.isPostgres() {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return invoice, nil
}

func (svc *InvoiceHubService) lockSession(ctx context.Context, tx bun.Tx, sessionID string) (*models.CheckoutSession, error) {
	session := &models.CheckoutSession{}
	query := tx.NewSelect().Model(session).Where("id = ?", sessionID)
	if svc.isPostgres() {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// SettlePayments credits transfers to an invoice, or to one of its checkout sessions when sessionID is set.
// Everything happens in one transaction with the invoice and session rows locked; transfers whose
// hash is already in the ledger are skipped, so repeated or concurrent calls are safe.
func (svc *InvoiceHubService) SettlePayments(ctx context.Context, invoiceID, sessionID string, transfers []IncomingTransfer) (*SettleResult, error) {
	candidates := aggregateTransfers(transfers)
	result, err := svc.settleOnce(ctx, invoiceID, sessionID, candidates)
	if err != nil && isUniqueViolation(err) {
		// a concurrent settlement credited one of the hashes first, the second pass skips it
		svc.Logger.Infof("Concurrent settlement detected invoice_id:%s session_id:%s", invoiceID, sessionID)
		result, err = svc.settleOnce(ctx, invoiceID, sessionID, candidates)
	}
	if err != nil {
		return nil, err
	}

	svc.afterSettle(ctx, result)
	return result, nil
}

func (svc *InvoiceHubService) settleOnce(ctx context.Context, invoiceID, sessionID string, candidates []IncomingTransfer) (*SettleResult, error) {
	result := &SettleResult{TotalPaid: decimal.Zero, TotalWithNew: decimal.Zero}

	err := svc.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		invoice, err := svc.lockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		result.Invoice = invoice
		result.TotalPrice = invoice.TotalPrice()
		result.Status = invoice.Status

		var session *models.CheckoutSession
		if sessionID != "" {
			if !invoice.IsMultiUse() {
				return ErrNotMultiUse
			}
			session, err = svc.lockSession(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if session.InvoiceID != invoice.ID {
				return ErrSessionNotFound
			}
			result.Session = session
			result.Status = session.Status
		} else if invoice.IsMultiUse() {
			return fmt.Errorf("%w: multi-use invoice %s is paid through checkout sessions", ErrWalletMissing, invoice.ID)
		}

		if !invoice.Payable() {
			result.NotPayable = true
			return nil
		}
		if result.Status == common.InvoiceStatusPaid {
			result.AlreadyPaid = true
			return nil
		}

		existing := []models.Payment{}
		err = tx.NewSelect().
			Model(&existing).
			Column("id", "transaction_hash", "amount", "checkout_session_id").
			Where("invoice_id = ?", invoice.ID).
			Scan(ctx)
		if err != nil {
			return err
		}
		known := map[string]bool{}
		credited := decimal.Zero
		for _, p := range existing {
			known[normalizeHash(p.TransactionHash)] = true
			if session == nil || p.CheckoutSessionID == session.ID {
				credited = credited.Add(p.Amount)
			}
		}

		payerName, payerEmail := result.payer()
		now := svc.now()
		for _, candidate := range candidates {
			if known[candidate.TransactionHash] {
				continue
			}
			paidAt := candidate.PaidAt.UTC()
			if paidAt.IsZero() {
				paidAt = now
			}
			payment := models.Payment{
				ID:              uuid.NewString(),
				InvoiceID:       invoice.ID,
				Name:            payerName,
				Email:           payerEmail,
				Amount:          candidate.Amount,
				TransactionHash: candidate.TransactionHash,
				PaidAt:          paidAt,
				CreatedAt:       now,
			}
			if session != nil {
				payment.CheckoutSessionID = session.ID
			}
			result.NewPayments = append(result.NewPayments, payment)
			result.TotalPaid = result.TotalPaid.Add(candidate.Amount)
		}
		result.TotalWithNew = credited.Add(result.TotalPaid)
		if !result.Credited() {
			return nil
		}

		if _, err := tx.NewInsert().Model(&result.NewPayments).Exec(ctx); err != nil {
			return fmt.Errorf("inserting payments of invoice %s: %w", invoice.ID, err)
		}
		if err := svc.enqueueSweeps(ctx, tx, invoice, session, result.NewPayments); err != nil {
			return err
		}

		status := common.InvoiceStatusPartiallyPaid
		if result.TotalWithNew.GreaterThanOrEqual(result.TotalPrice) {
			status = common.InvoiceStatusPaid
		}
		result.Status = status

		if session != nil {
			latest := result.NewPayments[len(result.NewPayments)-1]
			for _, p := range result.NewPayments {
				if p.PaidAt.After(latest.PaidAt) {
					latest = p
				}
			}
			session.Status = status
			session.Payment = latest.Snapshot()
			_, err = tx.NewUpdate().Model(session).Column("status", "payment", "updated_at").WherePK().Exec(ctx)
			return err
		}
		invoice.Status = status
		_, err = tx.NewUpdate().Model(invoice).Column("status", "updated_at").WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (svc *InvoiceHubService) enqueueSweeps(ctx context.Context, tx bun.Tx, invoice *models.Invoice, session *models.CheckoutSession, payments []models.Payment) error {
	sourceType, sourceID := common.SweepSourceInvoice, invoice.ID
	if session != nil {
		sourceType, sourceID = common.SweepSourceCheckoutSession, session.ID
	}
	now := svc.now()
	sweeps := make([]models.Sweep, 0, len(payments))
	for _, p := range payments {
		sweeps = append(sweeps, models.Sweep{
			ID:            uuid.NewString(),
			PaymentID:     p.ID,
			SourceType:    sourceType,
			SourceID:      sourceID,
			InvoiceID:     invoice.ID,
			UserID:        invoice.UserID,
			Amount:        p.Amount,
			AssetID:       svc.Asset.ID,
			Status:        common.SweepStatusPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		})
	}
	if _, err := tx.NewInsert().Model(&sweeps).Exec(ctx); err != nil {
		return fmt.Errorf("enqueueing sweeps of invoice %s: %w", invoice.ID, err)
	}
	return nil
}

// afterSettle runs the side effects of a committed credit. None of them can undo it.
func (svc *InvoiceHubService) afterSettle(ctx context.Context, result *SettleResult) {
	if !result.Credited() {
		return
	}
	invoice := result.Invoice
	hashes := make([]string, 0, len(result.NewPayments))
	for _, p := range result.NewPayments {
		hashes = append(hashes, p.TransactionHash)
	}
	sessionID := ""
	if result.Session != nil {
		sessionID = result.Session.ID
	}

	svc.Logger.Infof("Credited payments invoice_id:%s session_id:%s tx_hashes:%v amount:%s total:%s/%s status:%s",
		invoice.ID, sessionID, hashes, result.TotalPaid, result.TotalWithNew, result.TotalPrice, result.Status)
	if result.TotalWithNew.GreaterThan(result.TotalPrice) {
		svc.Logger.Warnf("Overpayment accepted invoice_id:%s session_id:%s total:%s price:%s",
			invoice.ID, sessionID, result.TotalWithNew, result.TotalPrice)
	}
	paymentsCredited.WithLabelValues(invoice.PaymentCollection, result.Status).Add(float64(len(result.NewPayments)))
	amountCredited.WithLabelValues(svc.Asset.ID).Add(result.TotalPaid.InexactFloat64())

	svc.nudgeSweeper()

	// the request may be gone by now, the side effects still need to run
	detached := context.WithoutCancel(ctx)
	if result.FullyPaid() {
		svc.unlisten(detached, result.creditedAddress())
	}
	svc.notifyPayment(detached, result)

	if svc.RabbitMQClient != nil {
		err := svc.RabbitMQClient.PublishPayment(detached, rabbitmq.PaymentEvent{
			InvoiceID:         invoice.ID,
			CheckoutSessionID: sessionID,
			UserID:            invoice.UserID,
			Status:            result.Status,
			Asset:             svc.Asset.ID,
			Amount:            result.TotalPaid.String(),
			TotalPaid:         result.TotalWithNew.String(),
			TotalPrice:        result.TotalPrice.String(),
			TransactionHashes: hashes,
			CreditedAt:        svc.now(),
		})
		if err != nil {
			svc.Logger.Errorf("Failed to publish payment event invoice_id:%s error:%v", invoice.ID, err)
		}
	}
}
