package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/getAlby/invoicehub.go/cdp"
	"github.com/getAlby/invoicehub.go/common"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/ziflex/lecho/v3"
)

// Registry keeps the shared (network, wallet_activity) subscription's address filter in sync.
// Updates are read-modify-write on the provider, so every change for one key is serialized:
// in-process by a keyed mutex and across instances by a postgres advisory lock.
type Registry struct {
	webhooks        cdp.WebhookAPI
	db              *bun.DB
	networkID       string
	notificationURI string
	logger          *lecho.Logger
	locks           *keyedMutex
	maxRetries      uint64
}

type Option = func(r *Registry)

// WithDB enables cross-instance locking when db is postgres.
func WithDB(db *bun.DB) Option {
	return func(r *Registry) {
		r.db = db
	}
}

func WithLogger(logger *lecho.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithMaxRetries(n uint64) Option {
	return func(r *Registry) {
		r.maxRetries = n
	}
}

func NewRegistry(webhooks cdp.WebhookAPI, networkID, notificationURI string, options ...Option) *Registry {
	r := &Registry{
		webhooks:        webhooks,
		networkID:       networkID,
		notificationURI: notificationURI,
		locks:           newKeyedMutex(),
		maxRetries:      3,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Registry) lockKey() string {
	return r.networkID + ":" + common.EventTypeWalletActivity
}

// Listen adds address to the subscription, creating it if needed. Listening twice is a no-op.
func (r *Registry) Listen(ctx context.Context, address string) error {
	if address == "" {
		return fmt.Errorf("listen: empty address")
	}
	return r.withLock(ctx, func() error {
		return r.retry(ctx, func() error {
			target, err := r.find(ctx)
			if err != nil {
				return err
			}
			if target == nil {
				_, err = r.webhooks.CreateWebhook(ctx, cdp.Webhook{
					NetworkID:       r.networkID,
					EventType:       common.EventTypeWalletActivity,
					NotificationURI: r.notificationURI,
					Addresses:       []string{address},
				})
				if err == nil {
					r.infof("Created activity subscription network:%s address:%s", r.networkID, address)
				}
				return err
			}
			if containsAddress(target.Addresses, address) {
				return nil
			}
			target.Addresses = append(target.Addresses, address)
			_, err = r.webhooks.UpdateWebhook(ctx, *target)
			if err == nil {
				r.infof("Listening to address:%s webhook_id:%s addresses:%d", address, target.ID, len(target.Addresses))
			}
			return err
		})
	})
}

// Unlisten removes address; the subscription is deleted once its filter is empty.
func (r *Registry) Unlisten(ctx context.Context, address string) error {
	if address == "" {
		return nil
	}
	return r.withLock(ctx, func() error {
		return r.retry(ctx, func() error {
			target, err := r.find(ctx)
			if err != nil || target == nil {
				return err
			}
			remaining := make([]string, 0, len(target.Addresses))
			for _, a := range target.Addresses {
				if !strings.EqualFold(a, address) {
					remaining = append(remaining, a)
				}
			}
			if len(remaining) == len(target.Addresses) {
				return nil
			}
			if len(remaining) == 0 {
				err = r.webhooks.DeleteWebhook(ctx, target.ID)
				if err == nil {
					r.infof("Deleted empty activity subscription webhook_id:%s", target.ID)
				}
				return err
			}
			target.Addresses = remaining
			_, err = r.webhooks.UpdateWebhook(ctx, *target)
			if err == nil {
				r.infof("Stopped listening to address:%s webhook_id:%s addresses:%d", address, target.ID, len(remaining))
			}
			return err
		})
	})
}

func (r *Registry) find(ctx context.Context) (*cdp.Webhook, error) {
	hooks, err := r.webhooks.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range hooks {
		if hooks[i].NetworkID == r.networkID && hooks[i].EventType == common.EventTypeWalletActivity {
			return &hooks[i], nil
		}
	}
	return nil, nil
}

func (r *Registry) retry(ctx context.Context, op func() error) error {
	expontentialBackoff := backoff.NewExponentialBackOff()
	expontentialBackoff.InitialInterval = 250 * time.Millisecond
	expontentialBackoff.MaxInterval = 5 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(expontentialBackoff, r.maxRetries), ctx))
}

func (r *Registry) withLock(ctx context.Context, fn func() error) error {
	unlock := r.locks.Lock(r.lockKey())
	defer unlock()

	if r.db == nil || r.db.Dialect().Name() != dialect.PG {
		return fn()
	}
	// advisory locks are session scoped, so lock and unlock on one dedicated connection
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext(?))", r.lockKey()); err != nil {
		return fmt.Errorf("acquiring subscription lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(hashtext(?))", r.lockKey()); err != nil {
			r.errorf("Failed to release subscription lock %s: %v", r.lockKey(), err)
		}
	}()
	return fn()
}

func (r *Registry) infof(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Infof(format, args...)
	}
}

func (r *Registry) errorf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Errorf(format, args...)
	}
}

func containsAddress(addresses []string, address string) bool {
	for _, a := range addresses {
		if strings.EqualFold(a, address) {
			return true
		}
	}
	return false
}
