package v2controllers

import (
	"net/http"

	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/labstack/echo/v4"
)

// AdminController : operator endpoints behind the admin token
type AdminController struct {
	svc *service.InvoiceHubService
}

func NewAdminController(svc *service.InvoiceHubService) *AdminController {
	return &AdminController{svc: svc}
}

// Reconcile godoc
// @Summary      Reconcile open invoices
// @Description  Polls every open invoice and checkout session once and credits missed transfers
// @Produce      json
// @Tags         Admin
// @Success      200  {object}  service.ReconcileReport
// @Failure      401  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/admin/reconcile [post]
func (controller *AdminController) Reconcile(c echo.Context) error {
	report, err := controller.svc.ReconcileOutstanding(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("Reconciliation failed: %v", err)
		return err
	}
	return c.JSON(http.StatusOK, report)
}
