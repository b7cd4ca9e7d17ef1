package v2controllers

import (
	"net/http"

	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/lib/responses"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/labstack/echo/v4"
)

// CheckoutController : payer sessions of multi-use invoices
type CheckoutController struct {
	svc *service.InvoiceHubService
}

func NewCheckoutController(svc *service.InvoiceHubService) *CheckoutController {
	return &CheckoutController{svc: svc}
}

type CreateCheckoutSessionRequestBody struct {
	InvoiceID string `json:"invoiceId" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
}

type CheckoutSessionResponseBody struct {
	*models.CheckoutSession
	CheckoutLink string `json:"checkoutLink"`
}

// CreateCheckoutSession godoc
// @Summary      Start a checkout session
// @Description  Creates a payer session with its own wallet on a multi-use invoice; one per email
// @Accept       json
// @Produce      json
// @Tags         Checkout
// @Param        session  body      CreateCheckoutSessionRequestBody  True  "Payer"
// @Success      201      {object}  CheckoutSessionResponseBody
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      404      {object}  responses.ErrorResponse
// @Failure      409      {object}  responses.ErrorResponse
// @Failure      500      {object}  responses.ErrorResponse
// @Router       /v2/checkout-sessions [post]
func (controller *CheckoutController) CreateCheckoutSession(c echo.Context) error {
	var body CreateCheckoutSessionRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load checkout session request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid checkout session request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	session, err := controller.svc.CreateCheckoutSession(c.Request().Context(), body.InvoiceID, body.Name, body.Email)
	if err != nil {
		c.Logger().Errorf("Error creating checkout session: invoice_id:%s error: %v", body.InvoiceID, err)
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, &CheckoutSessionResponseBody{
		CheckoutSession: session,
		CheckoutLink:    controller.svc.Config.CheckoutLink(session.ID),
	})
}

// GetCheckoutSession godoc
// @Summary      Get a checkout session
// @Description  Session with its invoice
// @Produce      json
// @Tags         Checkout
// @Param        id   path      string  true  "Checkout session id"
// @Success      200  {object}  CheckoutSessionResponseBody
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/checkout-sessions/{id} [get]
func (controller *CheckoutController) GetCheckoutSession(c echo.Context) error {
	session, err := controller.svc.GetCheckoutSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, &CheckoutSessionResponseBody{
		CheckoutSession: session,
		CheckoutLink:    controller.svc.Config.CheckoutLink(session.ID),
	})
}
