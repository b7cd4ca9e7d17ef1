package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Sweep : outbox row for moving one credited payment to the merchant wallet.
// Written in the same transaction as the Payment it references.
type Sweep struct {
	bun.BaseModel `bun:"table:sweeps"`

	ID              string          `json:"id" bun:",pk"`
	PaymentID       string          `json:"payment_id" bun:",notnull,unique"`
	SourceType      string          `json:"source_type" bun:",notnull"`
	SourceID        string          `json:"source_id" bun:",notnull"`
	InvoiceID       string          `json:"invoice_id" bun:",notnull"`
	UserID          string          `json:"user_id" bun:",notnull"`
	Amount          decimal.Decimal `json:"amount" bun:",type:numeric(36,6),notnull"`
	AssetID         string          `json:"asset_id" bun:",notnull"`
	Status          string          `json:"status" bun:",notnull"`
	Attempts        int             `json:"attempts" bun:",notnull,default:0"`
	TransferKey     string          `json:"-" bun:",nullzero"`
	TransferID      string          `json:"transfer_id,omitempty" bun:",nullzero"`
	TransactionHash string          `json:"transaction_hash,omitempty" bun:",nullzero"`
	LastError       string          `json:"last_error,omitempty" bun:",nullzero"`
	NextAttemptAt   time.Time       `json:"next_attempt_at" bun:",notnull"`
	ClaimedUntil    bun.NullTime    `json:"claimed_until"`
	CreatedAt       time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt       bun.NullTime    `json:"updated_at"`
	CompletedAt     bun.NullTime    `json:"completed_at"`
}

func (s *Sweep) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		s.UpdatedAt = bun.NullTime{Time: time.Now().UTC()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Sweep)(nil)
