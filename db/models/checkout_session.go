package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// CheckoutSession : a single payer's attempt against a multi-use invoice
type CheckoutSession struct {
	bun.BaseModel `bun:"table:checkout_sessions"`

	ID            string           `json:"id" bun:",pk"`
	InvoiceID     string           `json:"invoice_id" bun:",notnull"`
	Invoice       *Invoice         `json:"invoice,omitempty" bun:"rel:belongs-to,join:invoice_id=id"`
	Name          string           `json:"name"`
	Email         string           `json:"email" bun:",notnull"`
	Status        string           `json:"status" bun:",notnull"`
	WalletID      string           `json:"wallet_id,omitempty" bun:",nullzero"`
	WalletAddress string           `json:"wallet_address,omitempty" bun:",nullzero"`
	WalletSeed    string           `json:"-" bun:",nullzero"`
	Payment       *PaymentSnapshot `json:"payment,omitempty" bun:"payment,type:jsonb"`
	ExpiresAt     time.Time        `json:"expires_at" bun:",notnull"`
	CreatedAt     time.Time        `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt     bun.NullTime     `json:"updated_at"`
}

func (s *CheckoutSession) HasWallet() bool {
	return s.WalletID != "" && s.WalletAddress != "" && s.WalletSeed != ""
}

func (s *CheckoutSession) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		s.UpdatedAt = bun.NullTime{Time: time.Now().UTC()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*CheckoutSession)(nil)
