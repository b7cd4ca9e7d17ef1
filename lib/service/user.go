package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (svc *InvoiceHubService) FindUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User

	err := svc.DB.NewSelect().Model(&user).Where("id = ?", userID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (svc *InvoiceHubService) FindUserBySubject(ctx context.Context, subject string) (*models.User, error) {
	var user models.User

	err := svc.DB.NewSelect().Model(&user).Where("subject = ?", subject).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindOrCreateUser returns the merchant for an authenticated subject, creating it on first sight.
func (svc *InvoiceHubService) FindOrCreateUser(ctx context.Context, subject, email, name, imageURL string) (*models.User, error) {
	if subject == "" {
		return nil, ErrUserNotFound
	}
	user, err := svc.FindUserBySubject(ctx, subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user = &models.User{
		ID:        uuid.NewString(),
		Subject:   subject,
		Email:     email,
		Name:      name,
		ImageURL:  imageURL,
		Rewards:   []string{},
		CreatedAt: svc.now(),
	}
	// two first requests of the same user may race, the loser reads the winner's row
	_, err = svc.DB.NewInsert().Model(user).On("CONFLICT (subject) DO NOTHING").Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return svc.FindUserBySubject(ctx, subject)
}

// EnsureUserWallet provisions the merchant's personal wallet, the sweep destination, if missing.
func (svc *InvoiceHubService) EnsureUserWallet(ctx context.Context, user *models.User) (*models.User, error) {
	if user.HasWallet() {
		return user, nil
	}
	handle, err := svc.CreateWallet(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.DB.NewUpdate().
		Model((*models.User)(nil)).
		Set("wallet_id = ?", handle.ID).
		Set("wallet_address = ?", handle.Address).
		Set("wallet_seed = ?", handle.EncryptedSeed).
		Set("updated_at = ?", svc.now()).
		Where("id = ?", user.ID).
		Where("wallet_id IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// a concurrent request provisioned it first; the wallet created here stays unused
		svc.Logger.Warnf("User wallet already provisioned user_id:%s orphan_wallet_id:%s", user.ID, handle.ID)
	}
	return svc.FindUser(ctx, user.ID)
}

// WalletBalance returns the merchant wallet balance of the configured asset.
func (svc *InvoiceHubService) WalletBalance(ctx context.Context, user *models.User) (decimal.Decimal, error) {
	if user.WalletAddress == "" {
		return decimal.Zero, ErrWalletMissing
	}
	raw, err := svc.Wallets.Balance(ctx, svc.Config.NetworkID, user.WalletAddress, svc.Asset.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching balance of %s: %w", user.WalletAddress, err)
	}
	return svc.Asset.FromBaseUnits(raw)
}
