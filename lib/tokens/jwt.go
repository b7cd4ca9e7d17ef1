package tokens

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	jwtContextKey    = "UserJwt"
	claimsContextKey = "UserClaims"
)

// Claims issued by the identity provider fronting the dashboard.
type Claims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`

	jwt.StandardClaims
}

// Middleware validates the bearer token and exposes the subject as UserID.
func Middleware(secret []byte) echo.MiddlewareFunc {
	config := middleware.DefaultJWTConfig
	config.ContextKey = jwtContextKey
	config.SigningKey = secret
	config.ParseTokenFunc = func(auth string, c echo.Context) (interface{}, error) {
		token, err := jwt.ParseWithClaims(auth, &Claims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected jwt signing method=%v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			return nil, err
		}
		if !token.Valid {
			return nil, fmt.Errorf("invalid token")
		}
		return token, nil
	}
	config.ErrorHandlerWithContext = func(err error, c echo.Context) error {
		c.Logger().Error(err)
		return echo.NewHTTPError(http.StatusUnauthorized, echo.Map{
			"error":   true,
			"code":    1,
			"message": "bad auth",
		})
	}
	config.SuccessHandler = func(c echo.Context) {
		token := c.Get(jwtContextKey).(*jwt.Token)
		claims := token.Claims.(*Claims)
		c.Set(claimsContextKey, claims)
		c.Set("UserID", claims.Subject)
	}
	return middleware.JWTWithConfig(config)
}

// ClaimsFrom returns the claims stored by Middleware, nil on unauthenticated routes.
func ClaimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(claimsContextKey).(*Claims)
	return claims
}

// GenerateAccessToken signs an HS256 token with the given claims.
func GenerateAccessToken(secret []byte, expiryInSeconds int, subject, email, name string) (string, error) {
	claims := &Claims{
		Email: email,
		Name:  name,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Second * time.Duration(expiryInSeconds)).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	t, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}

	return t, nil
}
