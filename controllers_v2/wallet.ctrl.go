package v2controllers

import (
	"net/http"

	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// WalletController : the merchant's own wallet, the destination of every sweep
type WalletController struct {
	svc *service.InvoiceHubService
}

func NewWalletController(svc *service.InvoiceHubService) *WalletController {
	return &WalletController{svc: svc}
}

type Balance struct {
	Asset   string          `json:"asset"`
	Symbol  string          `json:"symbol"`
	Network string          `json:"network"`
	Amount  decimal.Decimal `json:"amount"`
}

type BalancesResponseBody struct {
	Address  string    `json:"address"`
	Balances []Balance `json:"balances"`
}

// Wallet godoc
// @Summary      Get the merchant wallet
// @Description  Returns the current user, provisioning the wallet on first call
// @Produce      json
// @Tags         Account
// @Success      200  {object}  models.User
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/wallet [get]
// @Security     OAuth2Password
func (controller *WalletController) Wallet(c echo.Context) error {
	user, err := controller.ensureWallet(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// Balances godoc
// @Summary      Retrieve balances
// @Description  Balance of the merchant wallet in the payment asset
// @Produce      json
// @Tags         Account
// @Success      200  {object}  BalancesResponseBody
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/wallet/balances [get]
// @Security     OAuth2Password
func (controller *WalletController) Balances(c echo.Context) error {
	user, err := controller.ensureWallet(c)
	if err != nil {
		return err
	}
	amount, err := controller.svc.WalletBalance(c.Request().Context(), user)
	if err != nil {
		c.Logger().Errorf("Error fetching balance for user_id:%s error: %v", user.ID, err)
		return serviceError(c, err)
	}
	asset := controller.svc.Asset
	return c.JSON(http.StatusOK, &BalancesResponseBody{
		Address: user.WalletAddress,
		Balances: []Balance{{
			Asset:   asset.ID,
			Symbol:  asset.Symbol,
			Network: asset.NetworkID,
			Amount:  amount,
		}},
	})
}

func (controller *WalletController) ensureWallet(c echo.Context) (*models.User, error) {
	user, err := controller.svc.EnsureUserWallet(c.Request().Context(), currentUser(c))
	if err != nil {
		c.Logger().Errorf("Error provisioning wallet for user_id:%s error: %v", currentUser(c).ID, err)
		return nil, err
	}
	return user, nil
}
