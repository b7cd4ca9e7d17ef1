package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getAlby/invoicehub.go/cdp"
	"github.com/getAlby/invoicehub.go/db"
	"github.com/getAlby/invoicehub.go/lib"
	"github.com/getAlby/invoicehub.go/lib/assets"
	"github.com/getAlby/invoicehub.go/lib/listener"
	"github.com/getAlby/invoicehub.go/lib/security"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/getAlby/invoicehub.go/mailer"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// script to credit transfers to open invoices and checkout sessions whose webhook never arrived
func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := lib.Logger(c.LogFilePath)

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}

	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{Dsn: c.SentryDSN}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	asset, err := assets.Resolve(c.PaymentAsset, c.NetworkID)
	if err != nil {
		logger.Fatalf("Error resolving payment asset: %v", err)
	}
	cipher, err := security.NewSeedCipher(c.ServerEncryptionKey)
	if err != nil {
		logger.Fatalf("Error loading SERVER_ENCRYPTION_KEY: %v", err)
	}
	cdpCfg, err := cdp.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load cdp config %v", err)
	}
	cdpClient, err := cdp.NewRESTClient(cdpCfg)
	if err != nil {
		logger.Fatalf("Error initializing the CDP client: %v", err)
	}

	var mailClient mailer.Mailer = &mailer.LogMailer{Logger: logger}
	if c.AWSRegion != "" && c.SESFromAddress != "" {
		mailClient, err = mailer.NewSES(ctx, c.AWSRegion, c.SESFromAddress)
		if err != nil {
			logger.Fatalf("Error initializing SES: %v", err)
		}
	}

	// no sweep routine runs here; the server picks up the outbox rows written by this job
	svc := &service.InvoiceHubService{
		Config:   c,
		DB:       dbConn,
		Wallets:  cdpClient,
		Listener: listener.NewRegistry(cdpClient, c.NetworkID, c.WebhookURI(), listener.WithDB(dbConn), listener.WithLogger(logger)),
		Asset:    asset,
		Cipher:   cipher,
		Mailer:   mailClient,
		Logger:   logger,
	}

	report, err := svc.ReconcileOutstanding(ctx)
	if err != nil {
		sentry.CaptureException(err)
		logger.Fatalf("Reconciliation failed: %v", err)
	}
	logger.Infof("Reconciliation done checked:%d credited:%d failed:%d", report.Checked, report.Credited, report.Failed)
}
