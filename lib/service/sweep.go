package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/getAlby/invoicehub.go/cdp"
	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	sweepBaseDelay = 30 * time.Second
	sweepMaxDelay  = 30 * time.Minute
)

var (
	errTransferPending = errors.New("transfer not final yet")
	errSweepLeaseLost  = errors.New("sweep lease lost to another worker")
)

// sweepDelay is the backoff before the next attempt after attempts failed ones.
func sweepDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := sweepBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= sweepMaxDelay {
			return sweepMaxDelay
		}
	}
	return delay
}

// ProcessDueSweeps claims and executes due sweeps one at a time, at most SweepBatchSize per pass.
// It returns how many completed.
func (svc *InvoiceHubService) ProcessDueSweeps(ctx context.Context) (int, error) {
	completed := 0
	for i := 0; i < svc.sweepBatchSize(); i++ {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		sweep, err := svc.claimSweep(ctx)
		if err != nil {
			return completed, err
		}
		if sweep == nil {
			return completed, nil
		}
		ok, err := svc.executeSweep(ctx, sweep)
		if err != nil {
			svc.Logger.Errorf("Sweep attempt failed sweep_id:%s payment_id:%s attempt:%d error:%v",
				sweep.ID, sweep.PaymentID, sweep.Attempts, err)
		}
		if ok {
			completed++
		}
	}
	return completed, nil
}

func (svc *InvoiceHubService) sweepBatchSize() int {
	if svc.Config.SweepBatchSize <= 0 {
		return 20
	}
	return svc.Config.SweepBatchSize
}

// sweepLease covers one full attempt: a transfer request plus the wait for finality.
func (svc *InvoiceHubService) sweepLease() time.Duration {
	lease := svc.Config.SweepLease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	if floor := svc.sweepTimeout() + time.Minute; lease < floor {
		lease = floor
	}
	return lease
}

func (svc *InvoiceHubService) sweepTimeout() time.Duration {
	if svc.Config.SweepTimeout <= 0 {
		return 120 * time.Second
	}
	return svc.Config.SweepTimeout
}

// claimSweep leases the next due row: a pending one whose next attempt is due, or an in flight one
// whose lease ran out because a worker died mid-attempt. The attempt counter doubles as the fencing
// token of the lease holder.
func (svc *InvoiceHubService) claimSweep(ctx context.Context) (*models.Sweep, error) {
	var claimed *models.Sweep
	now := svc.now()
	err := svc.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		sweep := models.Sweep{}
		query := tx.NewSelect().
			Model(&sweep).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.Where("status = ?", common.SweepStatusPending).Where("next_attempt_at <= ?", now)
					}).
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.Where("status = ?", common.SweepStatusInFlight).Where("claimed_until < ?", now)
					})
			}).
			Order("next_attempt_at ASC").
			Limit(1)
		if svc.isPostgres() {
			query = query.For("UPDATE SKIP LOCKED")
		}
		if err := query.Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		res, err := tx.NewUpdate().
			Model((*models.Sweep)(nil)).
			Set("status = ?", common.SweepStatusInFlight).
			Set("claimed_until = ?", now.Add(svc.sweepLease())).
			Set("attempts = attempts + 1").
			Set("updated_at = ?", now).
			Where("id = ?", sweep.ID).
			Where("attempts = ?", sweep.Attempts).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		sweep.Status = common.SweepStatusInFlight
		sweep.ClaimedUntil = bun.NullTime{Time: now.Add(svc.sweepLease())}
		sweep.Attempts++
		claimed = &sweep
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claiming sweep: %w", err)
	}
	return claimed, nil
}

// renewSweepLease extends the lease right before a transfer is created and fixes the idempotency key
// the transfer is sent with. It fails when another worker took the row over or a transfer was already
// recorded for it.
func (svc *InvoiceHubService) renewSweepLease(ctx context.Context, sweep *models.Sweep) error {
	now := svc.now()
	key := sweep.TransferKey
	if key == "" {
		key = uuid.NewString()
	}
	res, err := svc.DB.NewUpdate().
		Model((*models.Sweep)(nil)).
		Set("claimed_until = ?", now.Add(svc.sweepLease())).
		Set("transfer_key = ?", key).
		Set("updated_at = ?", now).
		Where("id = ?", sweep.ID).
		Where("status = ?", common.SweepStatusInFlight).
		Where("attempts = ?", sweep.Attempts).
		Where("transfer_id IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("renewing lease of sweep %s: %w", sweep.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errSweepLeaseLost
	}
	sweep.ClaimedUntil = bun.NullTime{Time: now.Add(svc.sweepLease())}
	sweep.TransferKey = key
	return nil
}

// updateLeasedSweep writes columns of a sweep only while this worker still holds its lease.
func (svc *InvoiceHubService) updateLeasedSweep(ctx context.Context, sweep *models.Sweep, columns ...string) error {
	res, err := svc.DB.NewUpdate().
		Model(sweep).
		Column(append(columns, "updated_at")...).
		WherePK().
		Where("attempts = ?", sweep.Attempts).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errSweepLeaseLost
	}
	return nil
}

func (svc *InvoiceHubService) sweepSource(ctx context.Context, sweep *models.Sweep) (*SourceWallet, error) {
	switch sweep.SourceType {
	case common.SweepSourceCheckoutSession:
		session := models.CheckoutSession{}
		if err := svc.DB.NewSelect().Model(&session).Where("id = ?", sweep.SourceID).Scan(ctx); err != nil {
			return nil, fmt.Errorf("loading checkout session %s: %w", sweep.SourceID, err)
		}
		return svc.WalletFromData(ctx, session.WalletID, session.WalletAddress, session.WalletSeed)
	case common.SweepSourceInvoice:
		invoice, err := svc.FindInvoice(ctx, sweep.SourceID)
		if err != nil {
			return nil, err
		}
		return svc.WalletFromData(ctx, invoice.WalletID, invoice.WalletAddress, invoice.WalletSeed)
	default:
		return nil, fmt.Errorf("unknown sweep source %q", sweep.SourceType)
	}
}

// executeSweep moves one payment to the merchant wallet. It reports whether the sweep completed.
func (svc *InvoiceHubService) executeSweep(ctx context.Context, sweep *models.Sweep) (bool, error) {
	merchant, err := svc.FindUser(ctx, sweep.UserID)
	if err != nil {
		return false, svc.rescheduleSweep(ctx, sweep, err, false)
	}
	if !merchant.HasWallet() {
		merchant, err = svc.EnsureUserWallet(ctx, merchant)
		if err != nil {
			return false, svc.rescheduleSweep(ctx, sweep, fmt.Errorf("provisioning wallet of merchant %s: %w", sweep.UserID, err), false)
		}
	}
	source, err := svc.sweepSource(ctx, sweep)
	if err != nil {
		return false, svc.rescheduleSweep(ctx, sweep, err, false)
	}

	if sweep.TransferID == "" {
		if err := svc.renewSweepLease(ctx, sweep); err != nil {
			if errors.Is(err, errSweepLeaseLost) {
				svc.Logger.Infof("Sweep taken over by another worker sweep_id:%s attempt:%d", sweep.ID, sweep.Attempts)
				return false, nil
			}
			return false, err
		}
		transfer, err := svc.Wallets.CreateTransfer(ctx, cdp.TransferRequest{
			WalletID:    source.ID,
			Address:     source.Address,
			Seed:        source.Seed,
			NetworkID:   svc.Config.NetworkID,
			AssetID:     sweep.AssetID,
			Amount:      svc.Asset.ToBaseUnits(sweep.Amount),
			Destination: merchant.WalletAddress,
			Gasless:     true,
			// a transfer accepted without an answer is returned again on the next attempt
			IdempotencyKey: sweep.TransferKey,
		})
		if err != nil {
			return false, svc.rescheduleSweep(ctx, sweep, fmt.Errorf("creating transfer: %w", err), false)
		}
		sweep.TransferID = transfer.ID
		sweep.TransactionHash = transfer.TransactionHash
		// persisted before waiting so a retry awaits this transfer instead of sending a second one
		_, err = svc.DB.NewUpdate().
			Model(sweep).
			Column("transfer_id", "transaction_hash", "updated_at").
			WherePK().
			Where("transfer_id IS NULL").
			Exec(context.WithoutCancel(ctx))
		if err != nil {
			return false, fmt.Errorf("persisting transfer %s of sweep %s: %w", transfer.ID, sweep.ID, err)
		}
		svc.Logger.Infof("Sweep transfer created sweep_id:%s transfer_id:%s amount:%s from:%s to:%s",
			sweep.ID, transfer.ID, sweep.Amount, source.Address, merchant.WalletAddress)
	}

	transfer, err := svc.awaitTransfer(ctx, source, sweep.TransferID)
	if err != nil {
		// keep the transfer id, the next attempt resumes waiting on it
		return false, svc.rescheduleSweep(ctx, sweep, fmt.Errorf("awaiting transfer %s: %w", sweep.TransferID, err), false)
	}
	if transfer.Status == cdp.TransferStatusFailed {
		return false, svc.rescheduleSweep(ctx, sweep, fmt.Errorf("transfer %s failed", transfer.ID), true)
	}

	now := svc.now()
	sweep.Status = common.SweepStatusCompleted
	sweep.CompletedAt = bun.NullTime{Time: now}
	sweep.ClaimedUntil = bun.NullTime{}
	sweep.LastError = ""
	if transfer.TransactionHash != "" {
		sweep.TransactionHash = transfer.TransactionHash
	}
	err = svc.updateLeasedSweep(ctx, sweep, "status", "completed_at", "claimed_until", "last_error", "transaction_hash")
	if errors.Is(err, errSweepLeaseLost) {
		// the worker holding the lease now records the outcome
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sweepsFinished.WithLabelValues(common.SweepStatusCompleted).Inc()
	svc.Logger.Infof("Sweep completed sweep_id:%s payment_id:%s tx_hash:%s", sweep.ID, sweep.PaymentID, sweep.TransactionHash)
	return true, nil
}

func (svc *InvoiceHubService) awaitTransfer(ctx context.Context, source *SourceWallet, transferID string) (*cdp.Transfer, error) {
	waitCtx, cancel := context.WithTimeout(ctx, svc.sweepTimeout())
	defer cancel()

	var transfer *cdp.Transfer
	poll := func() error {
		t, err := svc.Wallets.GetTransfer(waitCtx, source.ID, source.Address, transferID)
		if err != nil {
			return err
		}
		if !t.Terminal() {
			return errTransferPending
		}
		transfer = t
		return nil
	}
	expontentialBackoff := backoff.NewExponentialBackOff()
	expontentialBackoff.InitialInterval = time.Second
	expontentialBackoff.MaxInterval = 10 * time.Second
	expontentialBackoff.MaxElapsedTime = 0
	if err := backoff.Retry(poll, backoff.WithContext(expontentialBackoff, waitCtx)); err != nil {
		return nil, err
	}
	return transfer, nil
}

// rescheduleSweep releases the lease and schedules the next attempt, or gives up after the last one.
// clearTransfer drops a transfer id that can never complete.
func (svc *InvoiceHubService) rescheduleSweep(ctx context.Context, sweep *models.Sweep, cause error, clearTransfer bool) error {
	maxAttempts := svc.Config.SweepMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	sweep.LastError = cause.Error()
	sweep.ClaimedUntil = bun.NullTime{}
	if clearTransfer {
		sweep.TransferKey = ""
		sweep.TransferID = ""
		sweep.TransactionHash = ""
	}
	outcome := "retry"
	if sweep.Attempts >= maxAttempts {
		sweep.Status = common.SweepStatusFailed
		outcome = common.SweepStatusFailed
	} else {
		sweep.Status = common.SweepStatusPending
		sweep.NextAttemptAt = svc.now().Add(sweepDelay(sweep.Attempts))
	}

	// the lease may outlive a cancelled worker context, release it regardless
	err := svc.updateLeasedSweep(context.WithoutCancel(ctx), sweep,
		"status", "last_error", "claimed_until", "next_attempt_at", "transfer_key", "transfer_id", "transaction_hash")
	if errors.Is(err, errSweepLeaseLost) {
		svc.Logger.Warnf("Sweep lease lost before rescheduling sweep_id:%s attempt:%d cause:%v", sweep.ID, sweep.Attempts, cause)
		return nil
	}
	sweepsFinished.WithLabelValues(outcome).Inc()
	if sweep.Status == common.SweepStatusFailed {
		sentry.CaptureException(fmt.Errorf("sweep %s of payment %s failed after %d attempts: %w", sweep.ID, sweep.PaymentID, sweep.Attempts, cause))
	}
	if err != nil {
		return fmt.Errorf("rescheduling sweep %s: %w (cause: %v)", sweep.ID, err, cause)
	}
	return cause
}
