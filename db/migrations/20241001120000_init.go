package migrations

import (
	"context"

	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/uptrace/bun"
)

/*
	Since this init will reflect the latest model fields when run on fresh db

make sure that when you add/remove columns in subsequent migrations IfNotExists/IfExists is used
otherwise it's going to result in errors.
*/
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		tables := []interface{}{
			(*models.User)(nil),
			(*models.Invoice)(nil),
			(*models.Payment)(nil),
			(*models.CheckoutSession)(nil),
			(*models.Sweep)(nil),
		}
		for _, model := range tables {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}

		indexes := []struct {
			model   interface{}
			name    string
			unique  bool
			columns []string
		}{
			{(*models.Payment)(nil), "invoice_payments_invoice_id_transaction_hash_idx", true, []string{"invoice_id", "transaction_hash"}},
			{(*models.Payment)(nil), "invoice_payments_checkout_session_id_idx", false, []string{"checkout_session_id"}},
			{(*models.CheckoutSession)(nil), "checkout_sessions_invoice_id_email_idx", true, []string{"invoice_id", "email"}},
			{(*models.CheckoutSession)(nil), "checkout_sessions_wallet_address_idx", false, []string{"wallet_address"}},
			{(*models.Invoice)(nil), "invoices_user_id_idx", false, []string{"user_id"}},
			{(*models.Invoice)(nil), "invoices_wallet_address_idx", false, []string{"wallet_address"}},
			{(*models.Sweep)(nil), "sweeps_status_next_attempt_at_idx", false, []string{"status", "next_attempt_at"}},
		}
		for _, idx := range indexes {
			q := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists()
			if idx.unique {
				q = q.Unique()
			}
			if _, err := q.Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}, nil)
}
