package v2controllers

import (
	"errors"
	"net/http"

	"github.com/getAlby/invoicehub.go/lib/responses"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/labstack/echo/v4"
)

// serviceError answers known service errors; anything else goes to the HTTP error handler as a 500.
func serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvoiceNotFound):
		return c.JSON(http.StatusNotFound, responses.InvoiceNotFoundError)
	case errors.Is(err, service.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, responses.SessionNotFoundError)
	case errors.Is(err, service.ErrWalletMissing):
		return c.JSON(http.StatusBadRequest, responses.WalletMissingError)
	case errors.Is(err, service.ErrSessionConflict):
		return c.JSON(http.StatusConflict, responses.SessionConflictError)
	case errors.Is(err, service.ErrNotMultiUse):
		return c.JSON(http.StatusBadRequest, responses.NotMultiUseError)
	case errors.Is(err, service.ErrNotPayable):
		return c.JSON(http.StatusBadRequest, responses.NotPayableError)
	case errors.Is(err, service.ErrNotEditable):
		return c.JSON(http.StatusBadRequest, responses.NotEditableError)
	case errors.Is(err, service.ErrInvalidInvoice):
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	case errors.Is(err, service.ErrInvalidEvent):
		return c.JSON(http.StatusBadRequest, responses.InvalidEventError)
	case errors.Is(err, service.ErrUserNotFound):
		return c.JSON(http.StatusUnauthorized, responses.BadAuthError)
	}
	return err
}
