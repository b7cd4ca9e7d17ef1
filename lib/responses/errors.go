package responses

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var BadAuthError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad auth",
	HttpStatusCode: 401,
}

var MissingSignatureError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "Missing signature",
	HttpStatusCode: 400,
}

var MissingWebhookIDError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "Missing webhookId",
	HttpStatusCode: 400,
}

var SignatureMismatchError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "Signature mismatch",
	HttpStatusCode: 403,
}

var InvalidEventError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Invalid or missing fields",
	HttpStatusCode: 400,
}

var InvoiceNotFoundError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "Invoice not found",
	HttpStatusCode: 404,
}

var SessionNotFoundError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "Checkout session not found",
	HttpStatusCode: 404,
}

var WalletMissingError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "Wallet not found",
	HttpStatusCode: 400,
}

var SessionConflictError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "A checkout session for this email already exists",
	HttpStatusCode: 409,
}

var NotMultiUseError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "Invoice does not accept checkout sessions",
	HttpStatusCode: 400,
}

var NotPayableError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "Invoice is not payable",
	HttpStatusCode: 400,
}

var NotEditableError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "Invoice can not be changed in its current state",
	HttpStatusCode: 400,
}

// isErrAllowedForSentry filters out auth failures, they are expected noise
func isErrAllowedForSentry(err error) bool {
	if he, ok := err.(*echo.HTTPError); ok {
		if m, ok := he.Message.(echo.Map); ok {
			if code, ok := m["code"].(int); ok && code == BadAuthError.Code {
				return false
			}
		}
	}
	return true
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil && isErrAllowedForSentry(err) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("UserID", c.Get("UserID"))
			hub.CaptureException(err)
		})
	}
	code := http.StatusInternalServerError
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		c.JSON(code, he.Message)
	} else {
		c.JSON(http.StatusInternalServerError, GeneralServerError)
	}
}
