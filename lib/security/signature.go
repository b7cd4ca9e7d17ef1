package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/getAlby/invoicehub.go/lib/responses"
	"github.com/labstack/echo/v4"
)

const RawBodyContextKey = "WebhookRawBody"

type webhookEnvelope struct {
	WebhookID string `json:"webhookId"`
}

// SignWebhookPayload returns hex(HMAC-SHA256(key=webhookID, msg=body)).
func SignWebhookPayload(body []byte, webhookID string) string {
	mac := hmac.New(sha256.New, []byte(webhookID))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature compares in constant time. A signature that is not valid hex never matches.
func VerifyWebhookSignature(body []byte, webhookID, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(SignWebhookPayload(body, webhookID))
	return hmac.Equal(expected, provided)
}

// WebhookSignatureMiddleware authenticates provider pushes before any handler runs.
// The verified raw body is stored under RawBodyContextKey and restored on the request.
func WebhookSignatureMiddleware(header string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			signature := c.Request().Header.Get(header)
			if signature == "" {
				c.Logger().Errorf("Webhook rejected: missing signature header %s", header)
				return c.JSON(http.StatusBadRequest, responses.MissingSignatureError)
			}
			raw, err := io.ReadAll(c.Request().Body)
			if err != nil {
				c.Logger().Errorf("Webhook rejected: failed to read body: %v", err)
				return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
			}
			var envelope webhookEnvelope
			if err := json.Unmarshal(raw, &envelope); err != nil {
				c.Logger().Errorf("Webhook rejected: invalid payload: %v", err)
				return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
			}
			if envelope.WebhookID == "" {
				c.Logger().Errorf("Webhook rejected: missing webhookId")
				return c.JSON(http.StatusBadRequest, responses.MissingWebhookIDError)
			}
			if !VerifyWebhookSignature(raw, envelope.WebhookID, signature) {
				c.Logger().Errorf("Webhook rejected: signature mismatch webhook_id:%s", envelope.WebhookID)
				return c.JSON(http.StatusForbidden, responses.SignatureMismatchError)
			}
			c.Set(RawBodyContextKey, raw)
			c.Request().Body = io.NopCloser(bytes.NewReader(raw))
			return next(c)
		}
	}
}
