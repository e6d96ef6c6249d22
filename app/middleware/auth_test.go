package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cliphive/ms-go-account/app/entity"
	"github.com/cliphive/ms-go-account/app/middleware"

	"github.com/labstack/echo/v4"
)

type stubAuthenticator struct {
	token string
	user  *entity.User
}

func (s *stubAuthenticator) Authenticate(_ context.Context, accessToken string) (*entity.User, error) {
	if s.user != nil && accessToken == s.token {
		return s.user, nil
	}
	return nil, errors.New("invalid or expired access token")
}

func newContext(req *http.Request) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	m := middleware.NewAuthMiddleware(&stubAuthenticator{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx, rec := newContext(req)

	if err := m.RequireAuth(okHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	m := middleware.NewAuthMiddleware(&stubAuthenticator{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	ctx, rec := newContext(req)

	if err := m.RequireAuth(okHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_MalformedHeader(t *testing.T) {
	m := middleware.NewAuthMiddleware(&stubAuthenticator{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "token-without-scheme")
	ctx, rec := newContext(req)

	if err := m.RequireAuth(okHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_BearerHeader(t *testing.T) {
	user := &entity.User{ID: "user-1", Username: "alice"}
	m := middleware.NewAuthMiddleware(&stubAuthenticator{token: "valid-token", user: user})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	ctx, rec := newContext(req)

	called := false
	handler := m.RequireAuth(func(c echo.Context) error {
		called = true
		if got := middleware.UserFromContext(c); got == nil || got.ID != "user-1" {
			t.Fatalf("expected user-1 in context, got %+v", got)
		}
		return c.NoContent(http.StatusOK)
	})

	if err := handler(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the next handler to run")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequireAuth_Cookie(t *testing.T) {
	user := &entity.User{ID: "user-1", Username: "alice"}
	m := middleware.NewAuthMiddleware(&stubAuthenticator{token: "cookie-token", user: user})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: middleware.AccessTokenCookie, Value: "cookie-token"})
	ctx, rec := newContext(req)

	if err := m.RequireAuth(okHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequireAuth_CookieWinsOverHeader(t *testing.T) {
	user := &entity.User{ID: "user-1"}
	m := middleware.NewAuthMiddleware(&stubAuthenticator{token: "cookie-token", user: user})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: middleware.AccessTokenCookie, Value: "cookie-token"})
	req.Header.Set("Authorization", "Bearer header-token")
	ctx, rec := newContext(req)

	if err := m.RequireAuth(okHandler)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the cookie token to be used, got %d", rec.Code)
	}
}
