package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/config"
	"github.com/istefan/ahoi-api/internal/engine"
	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/store"
)

type userEnv struct {
	app       *fiber.App
	principal *metadata.Principal
}

func newUserEnv(t *testing.T) *userEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	env := &userEnv{}
	h := NewHandler(st)
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
		if env.principal != nil {
			c.Locals("principal", env.principal)
		}
		return c.Next()
	})
	RegisterRoutes(app, h)
	env.app = app
	return env
}

// The store seeds the administrator as user id 1.
var seededAdmin = &metadata.Principal{ID: 1, Username: "admin", Role: metadata.RoleAdministrator}

func (e *userEnv) request(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func TestCreateAndListUsers(t *testing.T) {
	env := newUserEnv(t)
	env.principal = seededAdmin

	status, body := env.request(t, "POST", "/users", map[string]any{
		"username":     "alice",
		"email":        "alice@example.com",
		"password":     "correcthorse",
		"role":         metadata.RoleManager,
		"capabilities": []string{"create_books"},
	})
	if status != 201 {
		t.Fatalf("create: %d %v", status, body)
	}
	created := body["data"].(map[string]any)
	if created["role"] != metadata.RoleManager {
		t.Fatalf("unexpected role: %v", created)
	}
	caps := created["capabilities"].([]any)
	if len(caps) != 1 || caps[0] != "create_books" {
		t.Fatalf("capabilities not stored: %v", caps)
	}
	if _, ok := created["password_hash"]; ok {
		t.Fatal("password_hash leaked")
	}

	status, body = env.request(t, "GET", "/users", nil)
	if status != 200 {
		t.Fatalf("list: %d %v", status, body)
	}
	if rows := body["data"].([]any); len(rows) != 2 {
		t.Fatalf("expected seeded admin plus alice, got %v", rows)
	}
	if body["meta"].(map[string]any)["total"] != float64(2) {
		t.Fatalf("unexpected meta: %v", body["meta"])
	}
}

func TestCreateUserPermissions(t *testing.T) {
	env := newUserEnv(t)

	// Members cannot manage users at all.
	env.principal = &metadata.Principal{ID: 9, Role: metadata.RoleMember}
	status, _ := env.request(t, "POST", "/users", map[string]any{
		"username": "x", "email": "x@example.com", "password": "correcthorse",
	})
	if status != 403 {
		t.Fatalf("expected 403 for member, got %d", status)
	}

	// Managers can create accounts but not administrators.
	env.principal = &metadata.Principal{ID: 10, Role: metadata.RoleManager}
	status, _ = env.request(t, "POST", "/users", map[string]any{
		"username": "boss", "email": "boss@example.com", "password": "correcthorse",
		"role": metadata.RoleAdministrator,
	})
	if status != 403 {
		t.Fatalf("expected 403 for admin-role grant by manager, got %d", status)
	}

	status, body := env.request(t, "POST", "/users", map[string]any{
		"username": "bob", "email": "bob@example.com", "password": "correcthorse",
	})
	if status != 201 {
		t.Fatalf("manager create member: %d %v", status, body)
	}
	if body["data"].(map[string]any)["role"] != metadata.RoleMember {
		t.Fatalf("default role must be member: %v", body["data"])
	}
}

func TestCreateUserValidation(t *testing.T) {
	env := newUserEnv(t)
	env.principal = seededAdmin

	status, body := env.request(t, "POST", "/users", map[string]any{
		"username": "", "email": "", "password": "short", "role": "wizard",
	})
	if status != 400 {
		t.Fatalf("expected 400, got %d: %v", status, body)
	}
	details := body["error"].(map[string]any)["details"].([]any)
	if len(details) != 4 {
		t.Fatalf("expected 4 details, got %v", details)
	}

	status, _ = env.request(t, "POST", "/users", map[string]any{
		"username": "admin", "email": "other@example.com", "password": "correcthorse",
	})
	if status != 409 {
		t.Fatalf("expected 409 for duplicate username, got %d", status)
	}
}

func TestMeAndUpdateMe(t *testing.T) {
	env := newUserEnv(t)
	env.principal = seededAdmin

	status, body := env.request(t, "GET", "/users/me", nil)
	if status != 200 {
		t.Fatalf("me: %d %v", status, body)
	}
	if body["data"].(map[string]any)["username"] != "admin" {
		t.Fatalf("unexpected me response: %v", body)
	}

	status, body = env.request(t, "PUT", "/users/me", map[string]any{
		"display_name": "Root",
		"meta":         map[string]any{"company": "Acme", "theme": "dark"},
	})
	if status != 200 {
		t.Fatalf("update me: %d %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["display_name"] != "Root" {
		t.Fatalf("display_name not updated: %v", data)
	}
	meta := data["meta"].(map[string]any)
	if meta["company"] != "Acme" {
		t.Fatalf("meta not updated: %v", data)
	}
	if _, ok := meta["theme"]; ok {
		t.Fatalf("unlisted meta key should be dropped: %v", meta)
	}

	// A second update leaves untouched profile keys in place.
	status, body = env.request(t, "PUT", "/users/me", map[string]any{
		"meta": map[string]any{"first_name": "Ada"},
	})
	if status != 200 {
		t.Fatalf("second update me: %d %v", status, body)
	}
	meta = body["data"].(map[string]any)["meta"].(map[string]any)
	if meta["company"] != "Acme" || meta["first_name"] != "Ada" {
		t.Fatalf("meta merge lost keys: %v", meta)
	}

	// Self-service cannot escalate.
	status, _ = env.request(t, "PUT", "/users/me", map[string]any{"role": metadata.RoleAdministrator})
	if status != 403 {
		t.Fatalf("expected 403 on role self-change, got %d", status)
	}
}

func TestAdminUpdateUser(t *testing.T) {
	env := newUserEnv(t)
	env.principal = seededAdmin

	status, body := env.request(t, "POST", "/users", map[string]any{
		"username": "alice", "email": "alice@example.com", "password": "correcthorse",
	})
	if status != 201 {
		t.Fatalf("create: %d %v", status, body)
	}
	id := int(body["data"].(map[string]any)["id"].(float64))

	status, body = env.request(t, "PUT", "/users/2", map[string]any{
		"role":         metadata.RoleManager,
		"capabilities": []string{"create_books"},
	})
	if status != 200 {
		t.Fatalf("update user %d: %d %v", id, status, body)
	}
	data := body["data"].(map[string]any)
	if data["role"] != metadata.RoleManager {
		t.Fatalf("role not updated: %v", data)
	}

	status, _ = env.request(t, "PUT", "/users/999", map[string]any{"display_name": "Ghost"})
	if status != 404 {
		t.Fatalf("expected 404 for unknown user, got %d", status)
	}
}

func TestDeleteUser(t *testing.T) {
	env := newUserEnv(t)
	env.principal = seededAdmin

	status, body := env.request(t, "POST", "/users", map[string]any{
		"username": "alice", "email": "alice@example.com", "password": "correcthorse",
	})
	if status != 201 {
		t.Fatalf("create: %d %v", status, body)
	}

	// No self-deletes.
	status, _ = env.request(t, "DELETE", "/users/1", nil)
	if status != 403 {
		t.Fatalf("expected 403 on self-delete, got %d", status)
	}

	status, _ = env.request(t, "DELETE", "/users/2", nil)
	if status != 200 {
		t.Fatalf("delete: %d", status)
	}
	status, _ = env.request(t, "DELETE", "/users/2", nil)
	if status != 404 {
		t.Fatalf("expected 404 on second delete, got %d", status)
	}

	// Managers cannot delete at all.
	env.principal = &metadata.Principal{ID: 5, Role: metadata.RoleManager}
	status, _ = env.request(t, "DELETE", "/users/1", nil)
	if status != 403 {
		t.Fatalf("expected 403 for manager delete, got %d", status)
	}
}

func TestRolesEndpoint(t *testing.T) {
	env := newUserEnv(t)
	env.principal = seededAdmin

	status, body := env.request(t, "GET", "/roles", nil)
	if status != 200 {
		t.Fatalf("roles: %d %v", status, body)
	}
	data := body["data"].(map[string]any)
	admin := data[metadata.RoleAdministrator].([]any)
	if len(admin) != 1 || admin[0] != "*" {
		t.Fatalf("unexpected administrator grants: %v", admin)
	}
	if len(data[metadata.RoleManager].([]any)) == 0 {
		t.Fatalf("manager capabilities missing: %v", data)
	}

	// Managers cannot see the administrator role.
	env.principal = &metadata.Principal{ID: 5, Username: "carol", Role: metadata.RoleManager}
	status, body = env.request(t, "GET", "/roles", nil)
	if status != 200 {
		t.Fatalf("roles as manager: %d %v", status, body)
	}
	data = body["data"].(map[string]any)
	if _, ok := data[metadata.RoleAdministrator]; ok {
		t.Fatalf("administrator role leaked to manager: %v", data)
	}
	if _, ok := data[metadata.RoleMember]; !ok {
		t.Fatalf("member role missing for manager: %v", data)
	}
}
