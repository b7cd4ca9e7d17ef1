package v2controllers

import (
	"net/http"

	"github.com/getAlby/invoicehub.go/db/models"
	"github.com/getAlby/invoicehub.go/lib/responses"
	"github.com/getAlby/invoicehub.go/lib/service"
	"github.com/getAlby/invoicehub.go/lib/tokens"
	"github.com/labstack/echo/v4"
)

const userContextKey = "User"

// UserMiddleware loads the merchant behind the verified token, creating the account on first sight.
// It must run after tokens.Middleware.
func UserMiddleware(svc *service.InvoiceHubService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := tokens.ClaimsFrom(c)
			if claims == nil || claims.Subject == "" {
				return c.JSON(http.StatusUnauthorized, responses.BadAuthError)
			}
			user, err := svc.FindOrCreateUser(c.Request().Context(), claims.Subject, claims.Email, claims.Name, claims.Picture)
			if err != nil {
				c.Logger().Errorf("Failed to load user subject:%s error:%v", claims.Subject, err)
				return err
			}
			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

func currentUser(c echo.Context) *models.User {
	user, _ := c.Get(userContextKey).(*models.User)
	return user
}
