package service

import "errors"

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrSessionNotFound = errors.New("checkout session not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrWalletMissing   = errors.New("wallet credentials missing")
	ErrSessionConflict = errors.New("checkout session already exists for this email")
	ErrNotMultiUse     = errors.New("invoice is not multi-use")
	ErrNotEditable     = errors.New("invoice can not be modified")
	ErrNotPayable      = errors.New("invoice is not payable")
	ErrInvalidInvoice  = errors.New("invalid invoice")
	ErrInvalidEvent    = errors.New("invalid wallet activity event")
)
