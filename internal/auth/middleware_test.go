package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func privateApp() *fiber.App {
	app := fiber.New()
	app.Get("/private", JWTMiddleware("secret-key"), func(c *fiber.Ctx) error {
		if c.Locals("operator") == nil {
			return fiber.NewError(fiber.StatusUnauthorized)
		}
		return c.SendString(c.Locals("operator").(string))
	})
	return app
}

func TestJWTMiddleware(t *testing.T) {
	app := privateApp()
	svc := NewService("secret-key")

	// missing token
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}

	// valid token
	token, _ := svc.signToken("ops", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ok")
	}

	// wrong secret
	other, _ := NewService("another-key").signToken("ops", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for foreign token")
	}

	// expired
	expired, _ := svc.signToken("ops", -time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for expired token")
	}
}

func TestJWTMiddlewareParseError(t *testing.T) {
	old := parseMiddlewareClaimsFn
	defer func() { parseMiddlewareClaimsFn = old }()
	parseMiddlewareClaimsFn = func(string, jwt.Claims, jwt.Keyfunc, ...jwt.ParserOption) (*jwt.Token, error) {
		return nil, errors.New("boom")
	}

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, _ := privateApp().Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}
}

func TestBearerFromHeader(t *testing.T) {
	if bearerFromHeader("Bearer abc") != "abc" {
		t.Fatalf("expected token")
	}
	if bearerFromHeader("bearer abc") != "abc" {
		t.Fatalf("expected case-insensitive scheme")
	}
	if bearerFromHeader("Basic abc") != "" || bearerFromHeader("abc") != "" {
		t.Fatalf("expected empty token")
	}
}
