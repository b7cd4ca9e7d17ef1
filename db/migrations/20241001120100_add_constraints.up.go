package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {

		if db.Dialect().Name().String() != "pg" {
			fmt.Printf("\033[1;31m%s\033[0m", "You are not using PostgreSQL. DB level checks can not be enabled!\n")
			return nil
		}
		sql := `
			-- credited amounts are always positive
				alter table invoice_payments
				ADD CONSTRAINT check_payment_amount_positive
				CHECK (amount > 0);

				alter table sweeps
				ADD CONSTRAINT check_sweep_amount_positive
				CHECK (amount > 0);

			-- keep status columns within the known lifecycle
				alter table invoices
				ADD CONSTRAINT check_invoice_status
				CHECK (status IN ('draft', 'outstanding', 'overdue', 'partially paid', 'paid', 'void'));

				alter table checkout_sessions
				ADD CONSTRAINT check_checkout_session_status
				CHECK (status IN ('outstanding', 'partially paid', 'paid'));

				alter table sweeps
				ADD CONSTRAINT check_sweep_status
				CHECK (status IN ('pending', 'in_flight', 'completed', 'failed'));
		`
		if _, err := db.Exec(sql); err != nil {
			return err
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		return nil
	})
}
