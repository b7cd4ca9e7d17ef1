package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/getAlby/invoicehub.go/cdp"
	"github.com/getAlby/invoicehub.go/common"
	v2controllers "github.com/getAlby/invoicehub.go/controllers_v2"
	"github.com/getAlby/invoicehub.go/db"
	"github.com/getAlby/invoicehub.go/db/migrations"
	"github.com/getAlby/invoicehub.go/lib"
	"github.com/getAlby/invoicehub.go/lib/assets"
	"github.com/getAlby/invoicehub.go/lib/listener"
	"github.com/getAlby/invoicehub.go/lib/security"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/getAlby/invoicehub.go/lib/tokens"
	"github.com/getAlby/invoicehub.go/lib/transport"
	"github.com/getAlby/invoicehub.go/mailer"
	"github.com/getAlby/invoicehub.go/rabbitmq"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun/migrate"
	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// @title        InvoiceHub.go
// @version      0.1.0
// @description  Hosted USDC invoicing with per-invoice custodial wallets and settlement sweeps.

// @contact.name   Alby
// @contact.url    https://getalby.com
// @contact.email  hello@getalby.com

// @BasePath  /

// @securitydefinitions.oauth2.password  OAuth2Password
// @tokenUrl                             /auth
// @schemes                              https http
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

	// Migrate the DB
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(startupCtx)
	if err != nil {
		logger.Fatalf("Error initializing db migrator: %v", err)
	}
	_, err = migrator.Migrate(startupCtx)
	if err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}
	// Setup exception tracking with Sentry if configured
	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			IgnoreErrors:     []string{"401"},
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
	}

	asset, err := assets.Resolve(c.PaymentAsset, c.NetworkID)
	if err != nil {
		logger.Fatalf("Error resolving payment asset: %v", err)
	}
	cipher, err := security.NewSeedCipher(c.ServerEncryptionKey)
	if err != nil {
		logger.Fatalf("Error loading SERVER_ENCRYPTION_KEY: %v", err)
	}

	// Init the wallet provider client
	cdpCfg, err := cdp.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading CDP config: %v", err)
	}
	cdpClient, err := cdp.NewRESTClient(cdpCfg)
	if err != nil {
		logger.Fatalf("Error initializing the CDP client: %v", err)
	}
	logger.Infof("Using CDP at %s network:%s asset:%s", cdpCfg.APIURL, asset.NetworkID, asset.ID)

	var mailClient mailer.Mailer = &mailer.LogMailer{Logger: logger}
	if c.AWSRegion != "" && c.SESFromAddress != "" {
		mailClient, err = mailer.NewSES(startupCtx, c.AWSRegion, c.SESFromAddress)
		if err != nil {
			logger.Fatalf("Error initializing SES: %v", err)
		}
	}

	// If no RABBITMQ_URI was provided we will not attempt to create a client
	// No rabbitmq features will be available in this case.
	var rabbitmqClient rabbitmq.Client
	if c.RabbitMQUri != "" {
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithAmqpLogger(logger))
		if err != nil {
			logger.Fatal(err)
		}

		defer amqpClient.Close()

		rabbitmqClient, err = rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithPaymentExchange(c.RabbitMQPaymentExchange),
			rabbitmq.WithWebhookExchange(c.RabbitMQWebhookExchange),
			rabbitmq.WithWebhookConsumerQueueName(c.RabbitMQWebhookConsumerQueueName),
		)
		if err != nil {
			logger.Fatal(err)
		}

		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()
	} else if c.WebhookConsumerType == common.WebhookConsumerRabbitMQ {
		logger.Fatal("WEBHOOK_CONSUMER_TYPE=rabbitmq requires RABBITMQ_URI")
	}

	svc := &service.InvoiceHubService{
		Config:         c,
		DB:             dbConn,
		Wallets:        cdpClient,
		Listener:       listener.NewRegistry(cdpClient, c.NetworkID, c.WebhookURI(), listener.WithDB(dbConn), listener.WithLogger(logger)),
		Asset:          asset,
		Cipher:         cipher,
		Mailer:         mailClient,
		RabbitMQClient: rabbitmqClient,
		Logger:         logger,
		SweepNudge:     make(chan struct{}, 1),
	}

	//init echo server
	e := transport.InitEcho(c, logger)
	//if Datadog is configured, add datadog middleware
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName("invoicehub.go")))
	}

	logMw := transport.CreateLoggingMiddleware(logger)
	// strict rate limit for public endpoints that reach the wallet provider
	strictRateLimitMiddleware := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)

	secured := e.Group("", tokens.Middleware(c.JWTSecret), v2controllers.UserMiddleware(svc), logMw)

	transport.RegisterV2Endpoints(svc, e, secured, strictRateLimitMiddleware, tokens.AdminTokenMiddleware(c.AdminToken), logMw)

	var backgroundWg sync.WaitGroup
	backGroundCtx, _ := signal.NotifyContext(context.Background(), os.Interrupt)
	// Move credited payments to the merchant wallets
	backgroundWg.Add(1)
	go func() {
		err := svc.StartSweepRoutine(backGroundCtx)
		if err != nil {
			sentry.CaptureException(err)
			//we want to restart in case of an error here
			svc.Logger.Fatal(err)
		}
		svc.Logger.Info("Sweep routine done")
		backgroundWg.Done()
	}()

	// Purge expired checkout sessions
	backgroundWg.Add(1)
	go func() {
		err := svc.StartMaintenanceRoutine(backGroundCtx)
		if err != nil {
			sentry.CaptureException(err)
			//in case of an error here no restart is necessary
			svc.Logger.Error(err)
		}
		svc.Logger.Info("Maintenance routine done")
		backgroundWg.Done()
	}()

	//Start webhook queue consumer
	if svc.RabbitMQClient != nil && c.WebhookConsumerType == common.WebhookConsumerRabbitMQ {
		backgroundWg.Add(1)
		go func() {
			err := svc.StartWebhookConsumerRoutine(backGroundCtx)
			if err != nil {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}
			svc.Logger.Info("Webhook consumer done")
			backgroundWg.Done()
		}()
	}

	//Start Prometheus server if necessary
	var echoPrometheus *echo.Echo
	if svc.Config.EnablePrometheus {
		echoPrometheus = transport.StartPrometheusEcho(logger, svc, e)
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.Logger.Info("InvoiceHub exiting gracefully. Goodbye.")
}
