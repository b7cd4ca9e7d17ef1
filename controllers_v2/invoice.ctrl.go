package v2controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/lib/responses"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// InvoiceController : merchant invoice management and the public payer view
type InvoiceController struct {
	svc *service.InvoiceHubService
}

func NewInvoiceController(svc *service.InvoiceHubService) *InvoiceController {
	return &InvoiceController{svc: svc}
}

type InvoiceRequestBody struct {
	Name              string               `json:"name"`
	Email             string               `json:"email" validate:"omitempty,email"`
	DueDate           *time.Time           `json:"dueDate"`
	PaymentCollection string               `json:"paymentCollection" validate:"omitempty,oneof=one-time multi-use"`
	InvoiceItems      []models.InvoiceItem `json:"invoiceItems" validate:"required,min=1,dive"`
	Draft             bool                 `json:"draft"`
}

func (body *InvoiceRequestBody) params() service.InvoiceParams {
	return service.InvoiceParams{
		Name:              body.Name,
		Email:             body.Email,
		DueDate:           body.DueDate,
		PaymentCollection: body.PaymentCollection,
		Items:             body.InvoiceItems,
		Draft:             body.Draft,
	}
}

type UpdateInvoiceRequestBody struct {
	Action  string              `json:"action" validate:"required,oneof=amend void"`
	Invoice *InvoiceRequestBody `json:"invoice"`
}

type InvoiceResponseBody struct {
	*models.Invoice
	TotalPrice decimal.Decimal `json:"totalPrice"`
	PayLink    string          `json:"payLink"`
}

type InvoicesResponseBody struct {
	Invoices   []InvoiceResponseBody `json:"invoices"`
	TotalCount int                   `json:"totalCount"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
}

type PaymentsResponseBody struct {
	Payments []models.PaymentSnapshot `json:"payments"`
}

func (controller *InvoiceController) response(invoice *models.Invoice) InvoiceResponseBody {
	return InvoiceResponseBody{
		Invoice:    invoice,
		TotalPrice: invoice.TotalPrice(),
		PayLink:    controller.svc.Config.PayLink(invoice.ID),
	}
}

// CreateInvoice godoc
// @Summary      Create an invoice
// @Description  Creates a one-time or multi-use USDC invoice, optionally as a draft
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        invoice  body      InvoiceRequestBody  True  "Invoice"
// @Success      201      {object}  InvoiceResponseBody
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      500      {object}  responses.ErrorResponse
// @Router       /v2/invoices [post]
// @Security     OAuth2Password
func (controller *InvoiceController) CreateInvoice(c echo.Context) error {
	user := currentUser(c)
	var body InvoiceRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load create invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid create invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	invoice, err := controller.svc.CreateInvoice(c.Request().Context(), user.ID, body.params())
	if err != nil {
		c.Logger().Errorf("Error creating invoice: user_id:%s error: %v", user.ID, err)
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, controller.response(invoice))
}

// ListInvoices godoc
// @Summary      List invoices
// @Description  Returns a page of the merchant's invoices, newest first
// @Produce      json
// @Tags         Invoice
// @Param        page   query     int  false  "Page, starting at 1"
// @Param        limit  query     int  false  "Page size"
// @Success      200    {object}  InvoicesResponseBody
// @Failure      400    {object}  responses.ErrorResponse
// @Failure      500    {object}  responses.ErrorResponse
// @Router       /v2/invoices [get]
// @Security     OAuth2Password
func (controller *InvoiceController) ListInvoices(c echo.Context) error {
	user := currentUser(c)
	page, limit := 1, 20
	var err error
	if c.QueryParams().Has("page") {
		if page, err = strconv.Atoi(c.QueryParam("page")); err != nil || page < 1 {
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		}
	}
	if c.QueryParams().Has("limit") {
		if limit, err = strconv.Atoi(c.QueryParam("limit")); err != nil || limit < 1 || limit > 100 {
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		}
	}

	invoices, count, err := controller.svc.ListInvoices(c.Request().Context(), user.ID, page, limit)
	if err != nil {
		return err
	}
	body := &InvoicesResponseBody{
		Invoices:   make([]InvoiceResponseBody, len(invoices)),
		TotalCount: count,
		Page:       page,
		Limit:      limit,
	}
	for i := range invoices {
		body.Invoices[i] = controller.response(&invoices[i])
	}
	return c.JSON(http.StatusOK, body)
}

// InvoiceStats godoc
// @Summary      Invoice counts
// @Description  Number of the merchant's invoices per status
// @Produce      json
// @Tags         Invoice
// @Success      200  {object}  service.InvoiceStats
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/invoices/stats [get]
// @Security     OAuth2Password
func (controller *InvoiceController) InvoiceStats(c echo.Context) error {
	stats, err := controller.svc.InvoiceStats(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// GetInvoice godoc
// @Summary      Get an invoice
// @Description  Payer view of an invoice including its payments
// @Produce      json
// @Tags         Invoice
// @Param        id   path      string  true  "Invoice id"
// @Success      200  {object}  InvoiceResponseBody
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id} [get]
func (controller *InvoiceController) GetInvoice(c echo.Context) error {
	invoice, err := controller.svc.GetInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, controller.response(invoice))
}

// UpdateInvoice godoc
// @Summary      Amend or void an invoice
// @Description  Drafts are edited in place, issued invoices are replaced by a new version
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        id      path      string                    true  "Invoice id"
// @Param        update  body      UpdateInvoiceRequestBody  True  "Mutation"
// @Success      200     {object}  InvoiceResponseBody
// @Failure      400     {object}  responses.ErrorResponse
// @Failure      404     {object}  responses.ErrorResponse
// @Failure      500     {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id} [put]
// @Security     OAuth2Password
func (controller *InvoiceController) UpdateInvoice(c echo.Context) error {
	user := currentUser(c)
	var body UpdateInvoiceRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load update invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid update invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	mutation := service.InvoiceMutation{Kind: service.MutationKind(body.Action)}
	if mutation.Kind == service.MutationAmend {
		if body.Invoice == nil {
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		}
		mutation.Params = body.Invoice.params()
	}

	invoice, err := controller.svc.MutateInvoice(c.Request().Context(), user.ID, c.Param("id"), mutation)
	if err != nil {
		c.Logger().Errorf("Error updating invoice: user_id:%s invoice_id:%s action:%s error: %v", user.ID, c.Param("id"), body.Action, err)
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, controller.response(invoice))
}

// InvoicePayments godoc
// @Summary      List invoice payments
// @Description  Ledger of a one-time invoice, latest payment per checkout session for multi-use invoices
// @Produce      json
// @Tags         Invoice
// @Param        id   path      string  true  "Invoice id"
// @Success      200  {object}  PaymentsResponseBody
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id}/payments [get]
// @Security     OAuth2Password
func (controller *InvoiceController) InvoicePayments(c echo.Context) error {
	payments, err := controller.svc.InvoicePayments(c.Request().Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, &PaymentsResponseBody{Payments: payments})
}

// QR godoc
// @Summary      Payment QR code
// @Description  PNG of the EIP-681 transfer request for the invoice, or for one of its checkout sessions
// @Produce      png
// @Tags         Invoice
// @Param        id          path   string  true   "Invoice id"
// @Param        checkoutId  query  string  false  "Checkout session id"
// @Success      200
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id}/qr [get]
func (controller *InvoiceController) QR(c echo.Context) error {
	ctx := c.Request().Context()
	invoice, err := controller.svc.FindInvoice(ctx, c.Param("id"))
	if err != nil {
		return serviceError(c, err)
	}
	address := invoice.WalletAddress
	if checkoutID := c.QueryParam("checkoutId"); checkoutID != "" {
		session, err := controller.svc.GetCheckoutSession(ctx, checkoutID)
		if err != nil {
			return serviceError(c, err)
		}
		if session.InvoiceID != invoice.ID {
			return c.JSON(http.StatusNotFound, responses.SessionNotFoundError)
		}
		address = session.WalletAddress
	}
	if address == "" {
		return c.JSON(http.StatusBadRequest, responses.WalletMissingError)
	}

	png, err := qrcode.Encode(controller.svc.Asset.TransferURI(address, invoice.TotalPrice()), qrcode.Medium, 256)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", png)
}
