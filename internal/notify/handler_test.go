package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/config"
	"github.com/istefan/ahoi-api/internal/engine"
	"github.com/istefan/ahoi-api/internal/metadata"
)

func newNotifyApp(mailer Mailer, p *metadata.Principal) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *engine.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return c.Status(500).SendString(err.Error())
		},
	})
	app.Use(func(c *fiber.Ctx) error {
		if p != nil {
			c.Locals("principal", p)
		}
		return c.Next()
	})
	RegisterRoutes(app, NewHandler(mailer))
	return app
}

func sendEmail(t *testing.T, app *fiber.App, body map[string]any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest("POST", "/notifications/email", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

var mailManager = &metadata.Principal{ID: 1, Username: "carol", Role: metadata.RoleManager}

func TestSendEmail(t *testing.T) {
	mock := NewMockMailer()
	app := newNotifyApp(mock, mailManager)

	status := sendEmail(t, app, map[string]any{
		"to":      "someone@example.com",
		"subject": "Welcome",
		"body":    "Hello there",
	})
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}

	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "someone@example.com" || sent[0].Subject != "Welcome" {
		t.Fatalf("unexpected recorded mail: %+v", sent)
	}
}

func TestSendEmailValidation(t *testing.T) {
	app := newNotifyApp(NewMockMailer(), mailManager)
	if status := sendEmail(t, app, map[string]any{"body": "no recipient"}); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestSendEmailRequiresCapability(t *testing.T) {
	member := &metadata.Principal{ID: 2, Username: "alice", Role: metadata.RoleMember}
	app := newNotifyApp(NewMockMailer(), member)
	if status := sendEmail(t, app, map[string]any{"to": "a@b.c", "subject": "x"}); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}

	app = newNotifyApp(NewMockMailer(), nil)
	if status := sendEmail(t, app, map[string]any{"to": "a@b.c", "subject": "x"}); status != 401 {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestSendEmailDisabled(t *testing.T) {
	app := newNotifyApp(nil, mailManager)
	if status := sendEmail(t, app, map[string]any{"to": "a@b.c", "subject": "x"}); status != 503 {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestNewMailerProviders(t *testing.T) {
	if m, err := NewMailer(config.EmailConfig{Provider: "mock"}); err != nil || m == nil {
		t.Fatalf("mock provider: %v %v", m, err)
	}
	if m, err := NewMailer(config.EmailConfig{Provider: "none"}); err != nil || m != nil {
		t.Fatalf("none provider must be disabled: %v %v", m, err)
	}
	if m, err := NewMailer(config.EmailConfig{Provider: ""}); err != nil || m != nil {
		t.Fatalf("empty provider must be disabled: %v %v", m, err)
	}
	if _, err := NewMailer(config.EmailConfig{Provider: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown provider must fail")
	}
	if m, err := NewMailer(config.EmailConfig{Provider: "smtp"}); err != nil || m == nil {
		t.Fatalf("smtp provider: %v %v", m, err)
	}
}
