package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Payment : one credited on-chain transfer, unique per (invoice_id, transaction_hash)
type Payment struct {
	bun.BaseModel `bun:"table:invoice_payments"`

	ID                string          `json:"id" bun:",pk"`
	InvoiceID         string          `json:"invoice_id" bun:",notnull"`
	CheckoutSessionID string          `json:"checkout_session_id,omitempty" bun:",nullzero"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	Amount            decimal.Decimal `json:"amount" bun:",type:numeric(36,6),notnull"`
	TransactionHash   string          `json:"transaction_hash" bun:",notnull"`
	PaidAt            time.Time       `json:"paid_at" bun:",notnull"`
	CreatedAt         time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}

// Snapshot converts the ledger row into the shape kept on checkout sessions.
func (p *Payment) Snapshot() *PaymentSnapshot {
	return &PaymentSnapshot{
		Name:            p.Name,
		Email:           p.Email,
		Amount:          p.Amount,
		TransactionHash: p.TransactionHash,
		PaidAt:          p.PaidAt,
	}
}

type PaymentSnapshot struct {
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionHash string          `json:"transactionHash"`
	PaidAt          time.Time       `json:"paidAt"`
}
