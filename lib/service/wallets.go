package service

import (
	"context"
	"fmt"
)

// WalletHandle is what gets persisted for a provisioned custodial wallet.
type WalletHandle struct {
	ID            string
	Address       string
	EncryptedSeed string
}

// SourceWallet is a re-imported wallet able to sign transfers.
type SourceWallet struct {
	ID      string
	Address string
	Seed    string
}

func (svc *InvoiceHubService) CreateWallet(ctx context.Context) (*WalletHandle, error) {
	exported, err := svc.Wallets.CreateWallet(ctx, svc.Config.NetworkID)
	if err != nil {
		return nil, fmt.Errorf("creating wallet: %w", err)
	}
	if exported.DefaultAddress == "" {
		return nil, fmt.Errorf("creating wallet: provider returned wallet %s without address", exported.ID)
	}
	encrypted, err := svc.Cipher.Encrypt(exported.Seed)
	if err != nil {
		return nil, fmt.Errorf("encrypting seed of wallet %s: %w", exported.ID, err)
	}
	svc.Logger.Infof("Created wallet wallet_id:%s address:%s network:%s", exported.ID, exported.DefaultAddress, svc.Config.NetworkID)
	return &WalletHandle{
		ID:            exported.ID,
		Address:       exported.DefaultAddress,
		EncryptedSeed: encrypted,
	}, nil
}

func (svc *InvoiceHubService) WalletFromData(ctx context.Context, walletID, address, encryptedSeed string) (*SourceWallet, error) {
	if walletID == "" || encryptedSeed == "" {
		return nil, ErrWalletMissing
	}
	seed, err := svc.Cipher.Decrypt(encryptedSeed)
	if err != nil {
		return nil, fmt.Errorf("decrypting seed of wallet %s: %w", walletID, err)
	}
	wallet, err := svc.Wallets.ImportWallet(ctx, walletID, seed)
	if err != nil {
		return nil, fmt.Errorf("importing wallet %s: %w", walletID, err)
	}
	if address == "" {
		address = wallet.DefaultAddress
	}
	return &SourceWallet{ID: wallet.ID, Address: address, Seed: seed}, nil
}
