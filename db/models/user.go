package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// User : merchant account, keyed by the subject of the external identity provider
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID            string       `json:"id" bun:",pk"`
	Subject       string       `json:"-" bun:",notnull,unique"`
	Name          string       `json:"name"`
	Email         string       `json:"email" bun:",nullzero,unique"`
	ImageURL      string       `json:"image_url" bun:",nullzero"`
	WalletID      string       `json:"wallet_id,omitempty" bun:",nullzero"`
	WalletAddress string       `json:"wallet_address,omitempty" bun:",nullzero"`
	WalletSeed    string       `json:"-" bun:",nullzero"`
	Rewards       []string     `json:"rewards" bun:",type:jsonb"`
	CreatedAt     time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt     bun.NullTime `json:"updated_at"`
}

func (u *User) HasWallet() bool {
	return u.WalletID != "" && u.WalletAddress != "" && u.WalletSeed != ""
}

func (u *User) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		u.UpdatedAt = bun.NullTime{Time: time.Now().UTC()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*User)(nil)
