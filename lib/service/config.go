package service

import (
	"time"
)

type Config struct {
	DatabaseUri                      string        `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns                 int           `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns             int           `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime          int           `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	SentryDSN                        string        `envconfig:"SENTRY_DSN"`
	DatadogAgentUrl                  string        `envconfig:"DATADOG_AGENT_URL"`
	SentryTracesSampleRate           float64       `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath                      string        `envconfig:"LOG_FILE_PATH"`
	JWTSecret                        []byte        `envconfig:"JWT_SECRET" required:"true"`
	AdminToken                       string        `envconfig:"ADMIN_TOKEN"`
	Host                             string        `envconfig:"HOST" default:"localhost:3000"`
	Port                             int           `envconfig:"PORT" default:"3000"`
	PublicURL                        string        `envconfig:"PUBLIC_URL" default:"http://localhost:3000"`
	DefaultRateLimit                 int           `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit                  int           `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit                   int           `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus                 bool          `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort                   int           `envconfig:"PROMETHEUS_PORT" default:"9092"`
	NetworkID                        string        `envconfig:"NETWORK_ID" default:"base-sepolia"`
	PaymentAsset                     string        `envconfig:"PAYMENT_ASSET" default:"usdc"`
	ServerEncryptionKey              string        `envconfig:"SERVER_ENCRYPTION_KEY" required:"true"`
	WebhookSignatureHeader           string        `envconfig:"WEBHOOK_SIGNATURE_HEADER" default:"X-Coinbase-Signature"`
	WebhookConsumerType              string        `envconfig:"WEBHOOK_CONSUMER_TYPE" default:"direct"`
	CheckoutSessionTTL               time.Duration `envconfig:"CHECKOUT_SESSION_TTL" default:"1h"`
	MaintenanceInterval              time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"1m"`
	SweepInterval                    time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	SweepTimeout                     time.Duration `envconfig:"SWEEP_TIMEOUT" default:"120s"`
	SweepLease                       time.Duration `envconfig:"SWEEP_LEASE" default:"5m"`
	SweepMaxAttempts                 int           `envconfig:"SWEEP_MAX_ATTEMPTS" default:"8"`
	SweepBatchSize                   int           `envconfig:"SWEEP_BATCH_SIZE" default:"20"`
	NotificationTimeout              time.Duration `envconfig:"NOTIFICATION_TIMEOUT" default:"15s"`
	StatusCheckTransactionLimit      int           `envconfig:"STATUS_CHECK_TRANSACTION_LIMIT" default:"50"`
	AWSRegion                        string        `envconfig:"AWS_REGION"`
	SESFromAddress                   string        `envconfig:"SES_FROM_ADDRESS"`
	RabbitMQUri                      string        `envconfig:"RABBITMQ_URI"`
	RabbitMQPaymentExchange          string        `envconfig:"RABBITMQ_PAYMENT_EXCHANGE" default:"invoicehub_payment"`
	RabbitMQWebhookExchange          string        `envconfig:"RABBITMQ_WEBHOOK_EXCHANGE" default:"invoicehub_webhook"`
	RabbitMQWebhookConsumerQueueName string        `envconfig:"RABBITMQ_WEBHOOK_CONSUMER_QUEUE_NAME" default:"invoicehub_webhook_consumer"`
}

// PayLink is the public URL a payer opens to pay the invoice.
func (c *Config) PayLink(invoiceID string) string {
	return c.PublicURL + "/payment/" + invoiceID
}

// WebhookURI is the notification target registered with the provider.
func (c *Config) WebhookURI() string {
	return c.PublicURL + "/webhook"
}

// CheckoutLink is the public URL of a checkout session of a multi-use invoice.
func (c *Config) CheckoutLink(sessionID string) string {
	return c.PublicURL + "/payment/checkout/" + sessionID
}
