package service

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// StartSweepRoutine drains due sweeps on every tick and whenever a credit nudges it.
func (svc *InvoiceHubService) StartSweepRoutine(ctx context.Context) error {
	interval := svc.Config.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	svc.Logger.Infof("Starting sweep routine interval:%s", interval)
	for {
		if _, err := svc.ProcessDueSweeps(ctx); err != nil && ctx.Err() == nil {
			svc.Logger.Error(err)
			sentry.CaptureException(err)
		}
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
		case <-svc.SweepNudge:
		}
	}
}

// StartMaintenanceRoutine purges expired checkout sessions and marks overdue invoices.
func (svc *InvoiceHubService) StartMaintenanceRoutine(ctx context.Context) error {
	interval := svc.Config.MaintenanceInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	svc.Logger.Infof("Starting maintenance routine interval:%s", interval)
	for {
		if _, err := svc.PurgeExpiredSessions(ctx); err != nil && ctx.Err() == nil {
			svc.Logger.Error(err)
			sentry.CaptureException(err)
		}
		if _, err := svc.MarkOverdueInvoices(ctx); err != nil && ctx.Err() == nil {
			svc.Logger.Error(err)
			sentry.CaptureException(err)
		}
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
		}
	}
}

// StartWebhookConsumerRoutine settles webhook payloads queued by the webhook endpoint.
func (svc *InvoiceHubService) StartWebhookConsumerRoutine(ctx context.Context) error {
	if svc.RabbitMQClient == nil {
		return nil
	}
	err := svc.RabbitMQClient.ConsumeWebhookEvents(ctx, svc.HandleQueuedWalletActivity)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
