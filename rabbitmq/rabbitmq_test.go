package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getAlby/invoicehub.go/rabbitmq"
	"github.com/getAlby/invoicehub.go/rabbitmq/mock_rabbitmq"
	"github.com/golang/mock/gomock"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:generate mockgen -destination=./mock_rabbitmq/rabbitmq.go github.com/getAlby/invoicehub.go/rabbitmq AMQPClient

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type recordingAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *recordingAcknowledger) snapshot() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

func TestPublishPayment(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient, rabbitmq.WithPaymentExchange("test_payments"))
	require.NoError(t, err)

	event := rabbitmq.PaymentEvent{
		InvoiceID:         "inv-1",
		UserID:            "user-1",
		Status:            "partially paid",
		Asset:             "usdc",
		Amount:            "40",
		TotalPaid:         "40",
		TotalPrice:        "100",
		TransactionHashes: []string{"0xabc"},
		CreditedAt:        time.Now().UTC(),
	}

	amqpClient.EXPECT().
		ExchangeDeclare(gomock.Eq("test_payments"), gomock.Eq("topic"), true, false, false, false, gomock.Nil()).
		Times(1).
		Return(nil)

	var published amqp.Publishing
	amqpClient.EXPECT().
		PublishWithContext(gomock.Any(), gomock.Eq("test_payments"), gomock.Eq("payment.credited.partially_paid"), false, false, gomock.Any()).
		Times(1).
		DoAndReturn(func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
			published = msg
			return nil
		})

	require.NoError(t, client.PublishPayment(context.Background(), event))

	assert.Equal(t, "application/json", published.ContentType)
	decoded := rabbitmq.PaymentEvent{}
	require.NoError(t, json.Unmarshal(published.Body, &decoded))
	assert.Equal(t, event.InvoiceID, decoded.InvoiceID)
	assert.Equal(t, event.TransactionHashes, decoded.TransactionHashes)
}

func TestPublishWebhookEventRejectsNonJSON(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client, err := rabbitmq.NewClient(mock_rabbitmq.NewMockAMQPClient(ctrl))
	require.NoError(t, err)

	assert.Error(t, client.PublishWebhookEvent(context.Background(), []byte("not json")))
}

func TestConsumeWebhookEvents(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient,
		rabbitmq.WithWebhookExchange("test_webhooks"),
		rabbitmq.WithWebhookConsumerQueueName("test_webhook_consumer"),
	)
	require.NoError(t, err)

	acknowledger := &recordingAcknowledger{}
	ch := make(chan amqp.Delivery, 3)
	ch <- amqp.Delivery{Acknowledger: acknowledger, DeliveryTag: 1, Body: []byte(`{"transactionHash":"0x1"}`)}
	ch <- amqp.Delivery{Acknowledger: acknowledger, DeliveryTag: 2, Body: []byte(`{"transactionHash":"fail"}`)}
	ch <- amqp.Delivery{Acknowledger: acknowledger, DeliveryTag: 3, Body: []byte(`{broken`)}

	amqpClient.EXPECT().
		Listen(gomock.Any(), gomock.Eq("test_webhooks"), gomock.Eq("webhook.wallet_activity"), gomock.Eq("test_webhook_consumer")).
		Times(1).
		Return((<-chan amqp.Delivery)(ch), nil)

	handler := func(ctx context.Context, raw []byte) error {
		event := map[string]string{}
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event["transactionHash"] == "fail" {
			return errors.New("settlement failed")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.ConsumeWebhookEvents(ctx, handler)
	}()

	assert.Eventually(t, func() bool { return len(acknowledger.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []ackRecord{
		{tag: 1, ack: true},
		{tag: 2, requeue: true},
		{tag: 3, requeue: false},
	}, acknowledger.snapshot())
}

func TestConsumeWebhookEventsStopsWhenDeliveriesClose(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	client, err := rabbitmq.NewClient(amqpClient,
		rabbitmq.WithWebhookExchange("test_webhooks"),
		rabbitmq.WithWebhookConsumerQueueName("test_webhook_consumer"),
	)
	require.NoError(t, err)

	ch := make(chan amqp.Delivery)
	close(ch)
	amqpClient.EXPECT().
		Listen(gomock.Any(), gomock.Eq("test_webhooks"), gomock.Eq("webhook.wallet_activity"), gomock.Eq("test_webhook_consumer")).
		Times(1).
		Return((<-chan amqp.Delivery)(ch), nil)

	handled := 0
	err = client.ConsumeWebhookEvents(context.Background(), func(ctx context.Context, raw []byte) error {
		handled++
		return nil
	})
	assert.EqualError(t, err, "Disconnected from RabbitMQ")
	assert.Equal(t, 0, handled)
}
