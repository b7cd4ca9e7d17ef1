package v2controllers

import (
	"net/http"

	"github.com/getAlby/invoicehub.go/lib/responses"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// InvoiceStatusController : payer-side polling of a custodial wallet
type InvoiceStatusController struct {
	svc *service.InvoiceHubService
}

func NewInvoiceStatusController(svc *service.InvoiceHubService) *InvoiceStatusController {
	return &InvoiceStatusController{svc: svc}
}

type InvoiceStatusResponseBody struct {
	Message    string           `json:"message"`
	Status     string           `json:"status,omitempty"`
	TotalPaid  *decimal.Decimal `json:"totalPaid,omitempty"`
	TotalPrice *decimal.Decimal `json:"totalPrice,omitempty"`
	Remaining  *decimal.Decimal `json:"remaining,omitempty"`
}

// CheckPayment godoc
// @Summary      Check for payments
// @Description  Lists the recent transactions of the invoice or checkout session wallet and credits new transfers
// @Produce      json
// @Tags         Payment
// @Param        invoiceId   query     string  false  "Invoice id"
// @Param        checkoutId  query     string  false  "Checkout session id"
// @Success      200         {object}  InvoiceStatusResponseBody
// @Failure      400         {object}  responses.ErrorResponse
// @Failure      404         {object}  responses.ErrorResponse
// @Failure      500         {object}  responses.ErrorResponse
// @Router       /v2/invoice-status [get]
func (controller *InvoiceStatusController) CheckPayment(c echo.Context) error {
	invoiceID := c.QueryParam("invoiceId")
	checkoutID := c.QueryParam("checkoutId")
	if (invoiceID == "") == (checkoutID == "") {
		c.Logger().Errorf("Invoice status: exactly one of invoiceId and checkoutId is required")
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	check, err := controller.svc.CheckPayment(c.Request().Context(), invoiceID, checkoutID)
	if err != nil {
		c.Logger().Errorf("Invoice status failed invoice_id:%s checkout_id:%s error:%v", invoiceID, checkoutID, err)
		return serviceError(c, err)
	}
	body := &InvoiceStatusResponseBody{Message: check.Message}
	if settle := check.Settle; settle != nil && !settle.NotPayable && !settle.AlreadyPaid {
		remaining := settle.Remaining()
		body.Status = settle.Status
		body.TotalPaid = &settle.TotalWithNew
		body.TotalPrice = &settle.TotalPrice
		body.Remaining = &remaining
	}
	return c.JSON(http.StatusOK, body)
}
