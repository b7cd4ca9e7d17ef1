package v2controllers

import (
	"net/http"

	"github.com/getAlby/invoicehub.go/common"
	"github.com/getAlby/invoicehub.go/lib/responses"
	"github.com/getAlby/invoicehub.go/lib/security"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
)

// WebhookController : receives the provider's signed wallet activity pushes
type WebhookController struct {
	svc *service.InvoiceHubService
}

func NewWebhookController(svc *service.InvoiceHubService) *WebhookController {
	return &WebhookController{svc: svc}
}

type WebhookResponseBody struct {
	Result string `json:"result"`
}

// HandleWebhook godoc
// @Summary      Wallet activity webhook
// @Description  Credits a token transfer to the invoice or checkout session owning the receiving address
// @Accept       json
// @Produce      json
// @Tags         Webhook
// @Param        event  body      service.WalletActivityEvent  True  "Wallet activity"
// @Success      200    {object}  WebhookResponseBody
// @Failure      400    {object}  responses.ErrorResponse
// @Failure      403    {object}  responses.ErrorResponse
// @Failure      500    {object}  responses.ErrorResponse
// @Router       /webhook [post]
func (controller *WebhookController) HandleWebhook(c echo.Context) error {
	raw, ok := c.Get(security.RawBodyContextKey).([]byte)
	if !ok {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if controller.svc.Config.WebhookConsumerType == common.WebhookConsumerRabbitMQ && controller.svc.RabbitMQClient != nil {
		if err := controller.svc.RabbitMQClient.PublishWebhookEvent(c.Request().Context(), raw); err != nil {
			c.Logger().Errorf("Failed to queue webhook event: %v", err)
			sentry.CaptureException(err)
			return err
		}
		return c.JSON(http.StatusOK, &WebhookResponseBody{Result: "queued"})
	}

	event, err := service.DecodeWalletActivity(raw)
	if err != nil {
		c.Logger().Errorf("Invalid webhook payload: %v", err)
		return serviceError(c, err)
	}
	result, err := controller.svc.HandleWalletActivity(c.Request().Context(), event)
	if err != nil {
		c.Logger().Errorf("Failed to handle wallet activity tx_hash:%s to:%s error:%v", event.TransactionHash, event.To, err)
		// not acknowledged, the provider delivers it again
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, &WebhookResponseBody{Result: string(result.Outcome)})
}
