package service

import (
	"context"
	"time"

	"github.com/getAlby/invoicehub.go/cdp"
	"github.com/getAlby/invoicehub.go/lib/assets"
	"github.com/getAlby/invoicehub.go/lib/security"
	"github.com/getAlby/invoicehub.go/mailer"
	"github.com/getAlby/invoicehub.go/rabbitmq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/ziflex/lecho/v3"
)

// ActivityListener manages the provider side address filter for incoming wallet activity.
type ActivityListener interface {
	Listen(ctx context.Context, address string) error
	Unlisten(ctx context.Context, address string) error
}

type InvoiceHubService struct {
	Config         *Config
	DB             *bun.DB
	Wallets        cdp.WalletAPI
	Listener       ActivityListener
	Asset          *assets.Asset
	Cipher         *security.SeedCipher
	Mailer         mailer.Mailer
	RabbitMQClient rabbitmq.Client
	Logger         *lecho.Logger
	// SweepNudge wakes the sweep routine after a credit is committed; buffered, size 1
	SweepNudge chan struct{}
	// Now is overridable in tests
	Now func() time.Time
}

func (svc *InvoiceHubService) now() time.Time {
	if svc.Now != nil {
		return svc.Now().UTC()
	}
	return time.Now().UTC()
}

func (svc *InvoiceHubService) isPostgres() bool {
	return svc.DB.Dialect().Name() == dialect.PG
}

func (svc *InvoiceHubService) nudgeSweeper() {
	if svc.SweepNudge == nil {
		return
	}
	select {
	case svc.SweepNudge <- struct{}{}:
	default:
	}
}

// listen and unlisten never fail the caller; polling still reconciles a missed address.
func (svc *InvoiceHubService) listen(ctx context.Context, address string) {
	if svc.Listener == nil || address == "" {
		return
	}
	if err := svc.Listener.Listen(ctx, address); err != nil {
		svc.Logger.Errorf("Failed to listen to address:%s error:%v", address, err)
	}
}

func (svc *InvoiceHubService) unlisten(ctx context.Context, address string) {
	if svc.Listener == nil || address == "" {
		return
	}
	if err := svc.Listener.Unlisten(ctx, address); err != nil {
		svc.Logger.Errorf("Failed to unlisten address:%s error:%v", address, err)
	}
}
