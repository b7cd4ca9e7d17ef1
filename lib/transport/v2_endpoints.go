package transport

import (
	"time"

	v2controllers "github.com/getAlby/invoicehub.go/controllers_v2"
	"github.com/getAlby/invoicehub.go/lib/security"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/labstack/echo/v4"
)

// qrCacheTTL bounds how long a rendered QR code is served from memory
const qrCacheTTL = 10 * time.Minute

func RegisterV2Endpoints(svc *service.InvoiceHubService, e *echo.Echo, secured *echo.Group, strictRateLimitMiddleware echo.MiddlewareFunc, adminMw echo.MiddlewareFunc, logMw echo.MiddlewareFunc) {
	invoiceCtrl := v2controllers.NewInvoiceController(svc)
	checkoutCtrl := v2controllers.NewCheckoutController(svc)
	walletCtrl := v2controllers.NewWalletController(svc)

	e.GET("/health", v2controllers.NewHealthController().Check)

	// provider pushes, authenticated by signature instead of JWT
	e.POST("/webhook", v2controllers.NewWebhookController(svc).HandleWebhook, security.WebhookSignatureMiddleware(svc.Config.WebhookSignatureHeader), logMw)

	// payer facing, public
	e.GET("/v2/invoice-status", v2controllers.NewInvoiceStatusController(svc).CheckPayment, strictRateLimitMiddleware, logMw)
	e.GET("/v2/invoices/:id", invoiceCtrl.GetInvoice, logMw)
	e.GET("/v2/invoices/:id/qr", invoiceCtrl.QR, CreateCacheClient(qrCacheTTL).Middleware())
	e.POST("/v2/checkout-sessions", checkoutCtrl.CreateCheckoutSession, strictRateLimitMiddleware, logMw)
	e.GET("/v2/checkout-sessions/:id", checkoutCtrl.GetCheckoutSession, logMw)

	// merchant facing
	secured.POST("/v2/invoices", invoiceCtrl.CreateInvoice)
	secured.GET("/v2/invoices", invoiceCtrl.ListInvoices)
	secured.GET("/v2/invoices/stats", invoiceCtrl.InvoiceStats)
	secured.PUT("/v2/invoices/:id", invoiceCtrl.UpdateInvoice)
	secured.GET("/v2/invoices/:id/payments", invoiceCtrl.InvoicePayments)
	secured.GET("/v2/wallet", walletCtrl.Wallet)
	secured.GET("/v2/wallet/balances", walletCtrl.Balances)

	//require admin token for operator endpoints
	if svc.Config.AdminToken != "" {
		e.POST("/v2/admin/reconcile", v2controllers.NewAdminController(svc).Reconcile, strictRateLimitMiddleware, adminMw, logMw)
	}
}
