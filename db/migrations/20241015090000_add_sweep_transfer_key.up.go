package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

// fresh databases already get the column from the init migration
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if db.Dialect().Name().String() == "pg" {
			_, err := db.ExecContext(ctx, "ALTER TABLE sweeps ADD COLUMN IF NOT EXISTS transfer_key varchar")
			return err
		}
		var count int
		err := db.NewRaw("SELECT count(*) FROM pragma_table_info('sweeps') WHERE name = 'transfer_key'").Scan(ctx, &count)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		_, err = db.ExecContext(ctx, "ALTER TABLE sweeps ADD COLUMN transfer_key varchar")
		return err
	}, nil)
}
