package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/engine"
	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/store"
)

// Handler serves token issuing, validation and self-registration.
type Handler struct {
	store      *store.Store
	secret     string
	ttl        time.Duration
	dispatcher *engine.Dispatcher
}

func NewHandler(s *store.Store, secret string, ttl time.Duration, d *engine.Dispatcher) *Handler {
	return &Handler{store: s, secret: secret, ttl: ttl, dispatcher: d}
}

// Token handles POST /ahoi/v1/token.
func (h *Handler) Token(c *fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	login := body.Username
	if login == "" {
		login = body.Email
	}
	if login == "" || body.Password == "" {
		return engine.UnauthorizedError("Username and password are required")
	}

	user, err := h.findUser(c.Context(), login)
	if err != nil {
		return engine.UnauthorizedError("Invalid credentials")
	}

	passwordHash, _ := user["password_hash"].(string)
	if !CheckPassword(body.Password, passwordHash) {
		return engine.UnauthorizedError("Invalid credentials")
	}

	principal := PrincipalFromRow(user)
	token, err := GenerateToken(principal, h.secret, h.ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"token":      token,
		"expires_in": int(h.ttl.Seconds()),
		"user":       SanitizeUser(user),
	}})
}

// Validate handles GET /ahoi/v1/token/validate. The token under test
// is the caller's own bearer token.
func (h *Handler) Validate(c *fiber.Ctx) error {
	token, err := BearerToken(c)
	if err != nil {
		return err
	}

	claims, err := ParseToken(token, h.secret)
	if err != nil {
		return engine.UnauthorizedError("Invalid or expired token")
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"valid":      true,
		"user_id":    claims.Subject,
		"username":   claims.Username,
		"role":       claims.Role,
		"expires_at": claims.ExpiresAt.UTC().Format(time.RFC3339),
	}})
}

// Register handles POST /ahoi/v1/register. New accounts always get the
// member role; only administrators can promote afterwards.
func (h *Handler) Register(c *fiber.Ctx) error {
	var body struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	var details []engine.ErrorDetail
	if body.Username == "" {
		details = append(details, engine.ErrorDetail{Field: "username", Message: "is required"})
	}
	if body.Email == "" {
		details = append(details, engine.ErrorDetail{Field: "email", Message: "is required"})
	}
	if len(body.Password) < 8 {
		details = append(details, engine.ErrorDetail{Field: "password", Message: "must be at least 8 characters"})
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}

	hash, err := HashPassword(body.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	dialect := h.store.Dialect
	pb := dialect.NewParamBuilder()
	now := store.Now()
	id, err := store.InsertID(c.Context(), h.store.DB, dialect,
		fmt.Sprintf(`INSERT INTO ahoi_users (username, email, display_name, password_hash, role, capabilities, meta, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(body.Username), pb.Add(body.Email), pb.Add(body.DisplayName),
			pb.Add(hash), pb.Add(metadata.RoleMember), pb.Add("[]"), pb.Add("{}"),
			pb.Add(now), pb.Add(now)),
		pb.Params()...)
	if err != nil {
		if errors.Is(store.MapError(dialect, err), store.ErrUniqueViolation) {
			return engine.ConflictError("Username or email already taken")
		}
		return fmt.Errorf("register user: %w", err)
	}

	pb = dialect.NewParamBuilder()
	user, err := store.QueryRow(c.Context(), h.store.DB,
		"SELECT * FROM ahoi_users WHERE id = "+pb.Add(id), pb.Params()...)
	if err != nil {
		return fmt.Errorf("read back user %d: %w", id, err)
	}

	sanitized := SanitizeUser(user)
	h.dispatcher.Trigger(metadata.EventUserCreated, "", sanitized)

	return c.Status(201).JSON(fiber.Map{"data": sanitized})
}

// RegisterRoutes mounts the auth endpoints on the given router group.
func RegisterRoutes(r fiber.Router, h *Handler) {
	r.Post("/token", h.Token)
	r.Get("/token/validate", h.Validate)
	r.Post("/register", h.Register)
}

// --- helpers ---

func (h *Handler) findUser(ctx context.Context, login string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	return store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf("SELECT * FROM ahoi_users WHERE username = %s OR email = %s",
			pb.Add(login), pb.Add(login)),
		pb.Params()...)
}

// PrincipalFromRow builds a Principal from an ahoi_users row.
func PrincipalFromRow(user map[string]any) *metadata.Principal {
	p := &metadata.Principal{
		Username:     asString(user["username"]),
		Role:         asString(user["role"]),
		Capabilities: parseCapabilities(user["capabilities"]),
	}
	switch id := user["id"].(type) {
	case int64:
		p.ID = id
	case float64:
		p.ID = int64(id)
	}
	return p
}

// SanitizeUser strips secrets and decodes JSON columns for responses.
func SanitizeUser(user map[string]any) map[string]any {
	out := make(map[string]any, len(user))
	for k, v := range user {
		if k == "password_hash" {
			continue
		}
		out[k] = v
	}
	out["capabilities"] = parseCapabilities(user["capabilities"])
	if raw := asString(user["meta"]); raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			out["meta"] = meta
		}
	}
	return out
}

func parseCapabilities(v any) []string {
	raw := asString(v)
	if raw == "" {
		return []string{}
	}
	var caps []string
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		return []string{}
	}
	return caps
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
