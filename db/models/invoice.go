package models

import (
	"context"
	"time"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type InvoiceItem struct {
	Name  string          `json:"name" validate:"required"`
	Price decimal.Decimal `json:"price"`
}

// Invoice : Invoice Model
type Invoice struct {
	bun.BaseModel `bun:"table:invoices"`

	ID                string        `json:"id" bun:",pk"`
	UserID            string        `json:"user_id" bun:",notnull"`
	User              *User         `json:"-" bun:"rel:belongs-to,join:user_id=id"`
	PreviousVersionID string        `json:"previous_version_id,omitempty" bun:",nullzero"`
	Name              string        `json:"name"`
	Email             string        `json:"email"`
	DueDate           bun.NullTime  `json:"due_date"`
	PaymentAsset      string        `json:"payment_asset" bun:",notnull,default:'usdc'"`
	PaymentCollection string        `json:"payment_collection" bun:",notnull"`
	Status            string        `json:"status" bun:",notnull"`
	Items             []InvoiceItem `json:"invoice_items" bun:"invoice_items,type:jsonb"`
	WalletID          string        `json:"wallet_id,omitempty" bun:",nullzero"`
	WalletAddress     string        `json:"wallet_address,omitempty" bun:",nullzero"`
	WalletSeed        string        `json:"-" bun:",nullzero"`
	Payments          []Payment     `json:"payments,omitempty" bun:"rel:has-many,join:id=invoice_id"`
	CreatedAt         time.Time     `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt         bun.NullTime  `json:"updated_at"`
}

func (i *Invoice) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range i.Items {
		total = total.Add(item.Price)
	}
	return total
}

func (i *Invoice) IsMultiUse() bool {
	return i.PaymentCollection == common.PaymentCollectionMultiUse
}

func (i *Invoice) HasWallet() bool {
	return i.WalletID != "" && i.WalletAddress != "" && i.WalletSeed != ""
}

// Payable reports whether incoming transfers may be credited to the invoice.
func (i *Invoice) Payable() bool {
	return i.Status != common.InvoiceStatusDraft && i.Status != common.InvoiceStatusVoid
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now().UTC()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)
