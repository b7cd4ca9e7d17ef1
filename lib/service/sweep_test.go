package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getAlby/invoicehub.go/cdp"
	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func (env *testEnv) sweepOf(t *testing.T, invoiceID string) models.Sweep {
	sweep := models.Sweep{}
	err := env.svc.DB.NewSelect().Model(&sweep).Where("invoice_id = ?", invoiceID).Limit(1).Scan(context.Background())
	require.NoError(t, err)
	return sweep
}

func TestSweepMovesPaymentToMerchant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.createOneTime(t, "100")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0x5a1", "40"))
	require.NoError(t, err)
	select {
	case <-env.svc.SweepNudge:
	default:
		t.Fatal("settlement did not nudge the sweeper")
	}

	completed, err := env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	transfers := env.cdp.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, invoice.WalletID, transfers[0].WalletID)
	assert.Equal(t, env.merchant.WalletAddress, transfers[0].Destination)
	assert.Equal(t, "40000000", transfers[0].Amount)
	assert.True(t, transfers[0].Gasless)

	sweep := env.sweepOf(t, invoice.ID)
	assert.Equal(t, common.SweepStatusCompleted, sweep.Status)
	assert.Equal(t, 1, sweep.Attempts)
	assert.NotEmpty(t, sweep.TransactionHash)
	assert.False(t, sweep.CompletedAt.IsZero())

	// nothing left to do
	completed, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
	assert.Len(t, env.cdp.Transfers(), 1)
}

func TestSweepFailureIsRetriedThenGivesUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.createOneTime(t, "100")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0x5b1", "100"))
	require.NoError(t, err)
	env.cdp.CreateTransferErr = errors.New("provider unavailable")

	completed, err := env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
	sweep := env.sweepOf(t, invoice.ID)
	assert.Equal(t, common.SweepStatusPending, sweep.Status)
	assert.Equal(t, 1, sweep.Attempts)
	assert.Contains(t, sweep.LastError, "provider unavailable")
	assert.Equal(t, env.clock.Now().Add(30*time.Second), sweep.NextAttemptAt.UTC())

	// not due yet
	_, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.sweepOf(t, invoice.ID).Attempts)

	env.clock.Advance(31 * time.Second)
	_, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.sweepOf(t, invoice.ID).Attempts)

	env.clock.Advance(61 * time.Second)
	_, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	sweep = env.sweepOf(t, invoice.ID)
	assert.Equal(t, common.SweepStatusFailed, sweep.Status)
	assert.Equal(t, 3, sweep.Attempts)

	// the credit itself is never rolled back
	found, err := env.svc.FindInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatusPaid, found.Status)
}

func TestSweepResumesPendingTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.Config.SweepTimeout = 200 * time.Millisecond
	invoice := env.createOneTime(t, "100")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0x5c1", "100"))
	require.NoError(t, err)
	env.cdp.TransferStatus = cdp.TransferStatusBroadcast

	completed, err := env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
	sweep := env.sweepOf(t, invoice.ID)
	assert.Equal(t, common.SweepStatusPending, sweep.Status)
	assert.NotEmpty(t, sweep.TransferID)

	env.cdp.TransferStatus = cdp.TransferStatusComplete
	env.clock.Advance(time.Minute)
	completed, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	// awaited the existing transfer instead of sending a second one
	assert.Len(t, env.cdp.Transfers(), 1)
	assert.Equal(t, sweep.TransferID, env.sweepOf(t, invoice.ID).TransferID)
}

func TestFailedTransferIsRecreated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.createOneTime(t, "100")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0x5d1", "100"))
	require.NoError(t, err)
	env.cdp.TransferStatus = cdp.TransferStatusFailed

	_, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	sweep := env.sweepOf(t, invoice.ID)
	assert.Equal(t, common.SweepStatusPending, sweep.Status)
	assert.Empty(t, sweep.TransferID)

	env.cdp.TransferStatus = cdp.TransferStatusComplete
	env.clock.Advance(time.Minute)
	completed, err := env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Len(t, env.cdp.Transfers(), 2)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.createOneTime(t, "100")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0x5e1", "100"))
	require.NoError(t, err)

	// a worker claimed the row and died
	_, err = env.svc.DB.NewUpdate().
		Model((*models.Sweep)(nil)).
		Set("status = ?", common.SweepStatusInFlight).
		Set("claimed_until = ?", env.clock.Now().Add(time.Minute)).
		Set("attempts = 1").
		Where("invoice_id = ?", invoice.ID).
		Exec(ctx)
	require.NoError(t, err)

	completed, err := env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)

	env.clock.Advance(2 * time.Minute)
	completed, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	sweep := env.sweepOf(t, invoice.ID)
	assert.Equal(t, 2, sweep.Attempts)
	assert.Equal(t, bun.NullTime{}, sweep.ClaimedUntil)
}

func TestSweepProvisionsMerchantWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	merchant, err := env.svc.FindOrCreateUser(ctx, "walletless", "walletless@example.com", "No Wallet", "")
	require.NoError(t, err)
	require.False(t, merchant.HasWallet())

	invoice, err := env.svc.CreateInvoice(ctx, merchant.ID, oneTimeParams("20"))
	require.NoError(t, err)
	_, err = env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0x5f1", "20"))
	require.NoError(t, err)

	completed, err := env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	merchant, err = env.svc.FindUser(ctx, merchant.ID)
	require.NoError(t, err)
	require.True(t, merchant.HasWallet())
	assert.Equal(t, merchant.WalletAddress, env.cdp.Transfers()[0].Destination)
}

func TestSweepIsSentOnceAcrossExpiredLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.createOneTime(t, "10")
	second := env.createOneTime(t, "20")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(first.WalletAddress, "0x5g1", "10"))
	require.NoError(t, err)
	_, err = env.svc.HandleWalletActivity(ctx, env.activity(second.WalletAddress, "0x5g2", "20"))
	require.NoError(t, err)
	// every wait for finality runs into the sweep timeout
	env.cdp.TransferStatus = cdp.TransferStatusBroadcast

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.svc.ProcessDueSweeps(ctx)
	}()
	// let the first worker block on its transfer, then expire its lease
	time.Sleep(500 * time.Millisecond)
	env.clock.Advance(2 * time.Minute)
	_, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	<-done

	sentFrom := func(walletID string) int {
		count := 0
		for _, transfer := range env.cdp.Transfers() {
			if transfer.WalletID == walletID {
				count++
			}
		}
		return count
	}
	assert.Equal(t, 1, sentFrom(first.WalletID))
	assert.Equal(t, 1, sentFrom(second.WalletID))

	env.cdp.TransferStatus = cdp.TransferStatusComplete
	env.clock.Advance(10 * time.Minute)
	completed, err := env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, completed)
	assert.Len(t, env.cdp.Transfers(), 2)
	assert.Equal(t, common.SweepStatusCompleted, env.sweepOf(t, first.ID).Status)
	assert.Equal(t, common.SweepStatusCompleted, env.sweepOf(t, second.ID).Status)
}

func TestTransferWithLostResponseIsNotSentTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoice := env.createOneTime(t, "100")
	_, err := env.svc.HandleWalletActivity(ctx, env.activity(invoice.WalletAddress, "0x5h1", "100"))
	require.NoError(t, err)
	env.cdp.LoseTransferResponses = 1

	completed, err := env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
	sweep := env.sweepOf(t, invoice.ID)
	assert.Equal(t, common.SweepStatusPending, sweep.Status)
	assert.Empty(t, sweep.TransferID)
	assert.NotEmpty(t, sweep.TransferKey)

	env.clock.Advance(31 * time.Second)
	completed, err = env.svc.ProcessDueSweeps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	transfers := env.cdp.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, sweep.TransferKey, transfers[0].IdempotencyKey)
	assert.Equal(t, common.SweepStatusCompleted, env.sweepOf(t, invoice.ID).Status)
}
