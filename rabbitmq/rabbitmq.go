package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

// bufPool lets concurrent publishers reuse encode buffers instead of allocating one per event.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"

	webhookRoutingKey = "webhook.wallet_activity"
)

// PaymentEvent is published once per committed credit.
type PaymentEvent struct {
	InvoiceID         string    `json:"invoice_id"`
	CheckoutSessionID string    `json:"checkout_session_id,omitempty"`
	UserID            string    `json:"user_id"`
	Status            string    `json:"status"`
	Asset             string    `json:"asset"`
	Amount            string    `json:"amount"`
	TotalPaid         string    `json:"total_paid"`
	TotalPrice        string    `json:"total_price"`
	TransactionHashes []string  `json:"transaction_hashes"`
	CreditedAt        time.Time `json:"credited_at"`
}

// RoutingKey is payment.credited.<status>, spaces replaced so consumers can bind on it.
func (e *PaymentEvent) RoutingKey() string {
	return "payment.credited." + strings.ReplaceAll(e.Status, " ", "_")
}

type WebhookEventHandler = func(ctx context.Context, raw []byte) error

type Client interface {
	PublishPayment(ctx context.Context, event PaymentEvent) error
	// PublishWebhookEvent queues a verified provider payload for ConsumeWebhookEvents
	PublishWebhookEvent(ctx context.Context, raw []byte) error
	ConsumeWebhookEvents(ctx context.Context, handler WebhookEventHandler) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient

	logger *lecho.Logger

	paymentExchange          string
	webhookExchange          string
	webhookConsumerQueueName string
}

type ClientOption = func(client *DefaultClient)

func WithPaymentExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.paymentExchange = exchange
	}
}

func WithWebhookExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.webhookExchange = exchange
	}
}

func WithWebhookConsumerQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.webhookConsumerQueueName = name
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

func NewClient(amqpClient AMQPClient, options ...ClientOption) (Client, error) {
	client := &DefaultClient{
		amqpClient: amqpClient,

		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		paymentExchange:          "invoicehub_payment",
		webhookExchange:          "invoicehub_webhook",
		webhookConsumerQueueName: "invoicehub_webhook_consumer",
	}

	for _, opt := range options {
		opt(client)
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

func (client *DefaultClient) declareExchange(name string) error {
	return client.amqpClient.ExchangeDeclare(
		name,
		// topic is a type of exchange that allows routing messages to different queue's bases on a routing key
		"topic",
		// Durable and Non-Auto-Deleted exchanges will survive server restarts and remain
		// declared when there are no remaining bindings.
		true,
		false,
		// Non-Internal exchange's accept direct publishing
		false,
		// Nowait: We set this to false as we want to wait for a server response
		// to check whether the exchange was created succesfully
		false,
		nil,
	)
}

func (client *DefaultClient) publish(ctx context.Context, exchange, key string, payload interface{}) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	switch p := payload.(type) {
	case []byte:
		buf.Write(p)
	default:
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return err
		}
	}

	return client.amqpClient.PublishWithContext(ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType: contentTypeJSON,
			Body:        buf.Bytes(),
		},
	)
}

func (client *DefaultClient) PublishPayment(ctx context.Context, event PaymentEvent) error {
	if err := client.declareExchange(client.paymentExchange); err != nil {
		return err
	}
	if err := client.publish(ctx, client.paymentExchange, event.RoutingKey(), event); err != nil {
		captureErr(client.logger, err)
		return err
	}
	client.logger.Debugf("Published payment event invoice_id:%s key:%s", event.InvoiceID, event.RoutingKey())
	return nil
}

func (client *DefaultClient) PublishWebhookEvent(ctx context.Context, raw []byte) error {
	if !json.Valid(raw) {
		return fmt.Errorf("rabbitmq: webhook payload is not json")
	}
	if err := client.declareExchange(client.webhookExchange); err != nil {
		return err
	}
	return client.publish(ctx, client.webhookExchange, webhookRoutingKey, raw)
}

func (client *DefaultClient) ConsumeWebhookEvents(ctx context.Context, handler WebhookEventHandler) error {
	deliveries, err := client.amqpClient.Listen(ctx, client.webhookExchange, webhookRoutingKey, client.webhookConsumerQueueName)
	if err != nil {
		return err
	}

	client.logger.Info("Starting webhook rabbitmq consumer loop")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("Disconnected from RabbitMQ")
			}

			if !json.Valid(delivery.Body) {
				captureErr(client.logger, fmt.Errorf("rabbitmq: dropping malformed webhook event %s", delivery.MessageId))

				// Badly formatted events will never succeed, so they are not requeued.
				if err := delivery.Nack(false, false); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			if err := handler(ctx, delivery.Body); err != nil {
				captureErr(client.logger, err)

				// Settlement failures are retryable. The queue's delivery-limit bounds the redeliveries.
				if err := delivery.Nack(false, true); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			if err := delivery.Ack(false); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
