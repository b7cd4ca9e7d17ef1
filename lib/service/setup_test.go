package service_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getAlby/invoicehub.go/cdp/cdptest"
	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/db"
	"github.com/getAlby/invoicehub.go/db/migrations"
	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/lib"
	"github.com/getAlby/invoicehub.go/lib/assets"
	"github.com/getAlby/invoicehub.go/lib/listener"
	"github.com/getAlby/invoicehub.go/lib/security"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/getAlby/invoicehub.go/mailer/mailertest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc      *service.InvoiceHubService
	cdp      *cdptest.FakeClient
	mail     *mailertest.Recorder
	clock    *clock
	merchant *models.User
}

func testEncryptionKey(t *testing.T) string {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func newTestEnv(t *testing.T) *testEnv {
	ctx := context.Background()
	c := &service.Config{
		DatabaseUri:                 fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		NetworkID:                   common.NetworkBaseSepolia,
		PaymentAsset:                common.PaymentAssetUSDC,
		ServerEncryptionKey:         testEncryptionKey(t),
		PublicURL:                   "http://localhost:3000",
		CheckoutSessionTTL:          time.Hour,
		SweepTimeout:                2 * time.Second,
		SweepLease:                  time.Minute,
		SweepMaxAttempts:            3,
		SweepBatchSize:              20,
		NotificationTimeout:         5 * time.Second,
		StatusCheckTransactionLimit: 50,
	}
	dbConn, err := db.Open(c)
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })

	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	asset, err := assets.Resolve(c.PaymentAsset, c.NetworkID)
	require.NoError(t, err)
	cipher, err := security.NewSeedCipher(c.ServerEncryptionKey)
	require.NoError(t, err)

	fake := cdptest.NewFakeClient()
	recorder := &mailertest.Recorder{}
	clk := &clock{now: time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)}
	logger := lib.Logger(c.LogFilePath)

	svc := &service.InvoiceHubService{
		Config:     c,
		DB:         dbConn,
		Wallets:    fake,
		Listener:   listener.NewRegistry(fake, c.NetworkID, c.WebhookURI(), listener.WithDB(dbConn), listener.WithLogger(logger)),
		Asset:      asset,
		Cipher:     cipher,
		Mailer:     recorder,
		Logger:     logger,
		SweepNudge: make(chan struct{}, 1),
		Now:        clk.Now,
	}

	merchant, err := svc.FindOrCreateUser(ctx, "merchant-subject", "merchant@example.com", "Acme", "")
	require.NoError(t, err)
	merchant, err = svc.EnsureUserWallet(ctx, merchant)
	require.NoError(t, err)

	return &testEnv{svc: svc, cdp: fake, mail: recorder, clock: clk, merchant: merchant}
}

func usdc(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// baseUnits converts whole USDC to the 6 decimal integer the chain reports.
func baseUnits(v string) string {
	return usdc(v).Shift(6).String()
}

func oneTimeParams(total string) service.InvoiceParams {
	return service.InvoiceParams{
		Name:              "Bob",
		Email:             "bob@example.com",
		PaymentCollection: common.PaymentCollectionOneTime,
		Items:             []models.InvoiceItem{{Name: "Design work", Price: usdc(total)}},
	}
}

func (env *testEnv) createOneTime(t *testing.T, total string) *models.Invoice {
	invoice, err := env.svc.CreateInvoice(context.Background(), env.merchant.ID, oneTimeParams(total))
	require.NoError(t, err)
	return invoice
}

func (env *testEnv) createMultiUse(t *testing.T, total string) *models.Invoice {
	invoice, err := env.svc.CreateInvoice(context.Background(), env.merchant.ID, service.InvoiceParams{
		Name:              "Workshop ticket",
		PaymentCollection: common.PaymentCollectionMultiUse,
		Items:             []models.InvoiceItem{{Name: "Ticket", Price: usdc(total)}},
	})
	require.NoError(t, err)
	return invoice
}

func (env *testEnv) activity(to, hash, value string) *service.WalletActivityEvent {
	return &service.WalletActivityEvent{
		WebhookID:       "webhook-test",
		EventType:       common.EventTypeWalletActivity,
		Network:         common.NetworkBaseSepolia,
		To:              to,
		From:            "0x000000000000000000000000000000000000beef",
		TransactionHash: hash,
		Value:           service.FlexibleString(baseUnits(value)),
		ContractAddress: env.svc.Asset.ContractAddress,
		BlockTime:       "2024-10-01T12:00:00Z",
	}
}

func (env *testEnv) listened() []string {
	return env.cdp.WebhookAddresses(common.NetworkBaseSepolia, common.EventTypeWalletActivity)
}
