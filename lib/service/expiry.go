package service

import (
	"context"
	"database/sql"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/uptrace/bun"
)

// PurgeExpiredSessions deletes checkout sessions that expired without any payment and stops
// listening to their addresses.
func (svc *InvoiceHubService) PurgeExpiredSessions(ctx context.Context) (int, error) {
	expired := []models.CheckoutSession{}
	err := svc.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		query := tx.NewSelect().
			Model(&expired).
			Column("id", "wallet_address").
			Where("status = ?", common.SessionStatusOutstanding).
			Where("expires_at < ?", svc.now())
		if svc.isPostgres() {
			query = query.For("UPDATE SKIP LOCKED")
		}
		if err := query.Scan(ctx); err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		ids := make([]string, 0, len(expired))
		for _, session := range expired {
			ids = append(ids, session.ID)
		}
		_, err := tx.NewDelete().
			Model((*models.CheckoutSession)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Where("status = ?", common.SessionStatusOutstanding).
			Exec(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, session := range expired {
		svc.Logger.Infof("Purged expired checkout session session_id:%s address:%s", session.ID, session.WalletAddress)
		svc.unlisten(ctx, session.WalletAddress)
	}
	return len(expired), nil
}

// MarkOverdueInvoices flags outstanding invoices whose due date passed. Overdue invoices stay payable.
func (svc *InvoiceHubService) MarkOverdueInvoices(ctx context.Context) (int, error) {
	now := svc.now()
	res, err := svc.DB.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("status = ?", common.InvoiceStatusOverdue).
		Set("updated_at = ?", now).
		Where("status = ?", common.InvoiceStatusOutstanding).
		Where("due_date IS NOT NULL").
		Where("due_date < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows > 0 {
		svc.Logger.Infof("Marked %d invoices overdue", rows)
	}
	return int(rows), nil
}
