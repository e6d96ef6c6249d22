package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cliphive/ms-go-account/app/dto"
	"github.com/cliphive/ms-go-account/app/entity"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// AccessTokenCookie is the cookie carrying the bearer access token. The
// Authorization header is accepted as an equivalent for non-browser
// clients; the cookie wins when both are present.
const AccessTokenCookie = "accessToken"

// UserContextKey is where RequireAuth stores the resolved *entity.User.
const UserContextKey = "user"

type authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*entity.User, error)
}

type AuthMiddleware struct {
	accounts authenticator
}

func NewAuthMiddleware(accounts authenticator) *AuthMiddleware {
	return &AuthMiddleware{accounts: accounts}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString := extractAccessToken(c)
		if tokenString == "" {
			logrus.Debug("Missing access token")
			return c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
				Status: http.StatusUnauthorized,
				Error:  "missing access token",
			})
		}

		user, err := m.accounts.Authenticate(c.Request().Context(), tokenString)
		if err != nil {
			logrus.WithError(err).Debug("Access token rejected")
			return c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
				Status: http.StatusUnauthorized,
				Error:  "invalid or expired token",
			})
		}

		c.Set(UserContextKey, user)

		return next(c)
	}
}

// UserFromContext returns the user attached by RequireAuth, or nil when
// the handler runs outside the gate.
func UserFromContext(c echo.Context) *entity.User {
	user, _ := c.Get(UserContextKey).(*entity.User)
	return user
}

func extractAccessToken(c echo.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := c.Request().Header.Get("Authorization")
	parts := strings.Fields(authHeader)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}

	return ""
}
