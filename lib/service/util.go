package service

import (
	"errors"
	"strings"

	"github.com/uptrace/bun/driver/pgdriver"
)

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
