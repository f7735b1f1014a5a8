package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/auth"
	"github.com/istefan/ahoi-api/internal/engine"
	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/store"
)

// Handler serves account management endpoints.
type Handler struct {
	store *store.Store
}

func NewHandler(s *store.Store) *Handler {
	return &Handler{store: s}
}

// List handles GET /ahoi/v1/users.
func (h *Handler) List(c *fiber.Ctx) error {
	if err := requireUserManager(c); err != nil {
		return err
	}

	page, perPage := 1, 20
	if v, err := strconv.Atoi(c.Query("_page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("_limit")); err == nil && v > 0 && v <= 100 {
		perPage = v
	}

	pb := h.store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(c.Context(), h.store.DB,
		fmt.Sprintf("SELECT * FROM ahoi_users ORDER BY id ASC LIMIT %s OFFSET %s",
			pb.Add(perPage), pb.Add((page-1)*perPage)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	countRow, err := store.QueryRow(c.Context(), h.store.DB, "SELECT COUNT(*) AS total FROM ahoi_users")
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}

	sanitized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		sanitized = append(sanitized, auth.SanitizeUser(row))
	}

	return c.JSON(fiber.Map{
		"data": sanitized,
		"meta": fiber.Map{"page": page, "per_page": perPage, "total": countRow["total"]},
	})
}

// Create handles POST /ahoi/v1/users.
func (h *Handler) Create(c *fiber.Ctx) error {
	if err := requireUserManager(c); err != nil {
		return err
	}

	var body struct {
		Username     string   `json:"username"`
		Email        string   `json:"email"`
		Password     string   `json:"password"`
		DisplayName  string   `json:"display_name"`
		Role         string   `json:"role"`
		Capabilities []string `json:"capabilities"`
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
	if body.Role == "" {
		body.Role = metadata.RoleMember
	}
	if !validRole(body.Role) {
		details = append(details, engine.ErrorDetail{Field: "role", Message: "unknown role"})
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}

	principal := auth.GetPrincipal(c)
	if body.Role == metadata.RoleAdministrator && !principal.IsAdministrator() {
		return engine.ForbiddenError("Only administrators can create administrators")
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	capsJSON, _ := json.Marshal(body.Capabilities)
	if body.Capabilities == nil {
		capsJSON = []byte("[]")
	}

	dialect := h.store.Dialect
	pb := dialect.NewParamBuilder()
	now := store.Now()
	id, err := store.InsertID(c.Context(), h.store.DB, dialect,
		fmt.Sprintf(`INSERT INTO ahoi_users (username, email, display_name, password_hash, role, capabilities, meta, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(body.Username), pb.Add(body.Email), pb.Add(body.DisplayName),
			pb.Add(hash), pb.Add(body.Role), pb.Add(string(capsJSON)), pb.Add("{}"),
			pb.Add(now), pb.Add(now)),
		pb.Params()...)
	if err != nil {
		if errors.Is(store.MapError(dialect, err), store.ErrUniqueViolation) {
			return engine.ConflictError("Username or email already taken")
		}
		return fmt.Errorf("create user: %w", err)
	}

	user, err := h.fetchUser(c, id)
	if err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": auth.SanitizeUser(user)})
}

// Me handles GET /ahoi/v1/users/me.
func (h *Handler) Me(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	user, err := h.fetchUser(c, principal.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": auth.SanitizeUser(user)})
}

// UpdateMe handles PUT /ahoi/v1/users/me. Role and capabilities cannot
// be changed through this endpoint.
func (h *Handler) UpdateMe(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	return h.applyUpdate(c, principal.ID, false)
}

// Get handles GET /ahoi/v1/users/:id.
func (h *Handler) Get(c *fiber.Ctx) error {
	if err := requireUserManager(c); err != nil {
		return err
	}
	id, err := parseUserID(c)
	if err != nil {
		return err
	}
	user, err := h.fetchUser(c, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": auth.SanitizeUser(user)})
}

// Update handles PUT /ahoi/v1/users/:id.
func (h *Handler) Update(c *fiber.Ctx) error {
	if err := requireUserManager(c); err != nil {
		return err
	}
	id, err := parseUserID(c)
	if err != nil {
		return err
	}
	return h.applyUpdate(c, id, true)
}

// Delete handles DELETE /ahoi/v1/users/:id. Administrator only, and
// never the caller's own account.
func (h *Handler) Delete(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	if !principal.IsAdministrator() {
		return engine.ForbiddenError("Administrator access required")
	}

	id, err := parseUserID(c)
	if err != nil {
		return err
	}
	if id == principal.ID {
		return engine.ForbiddenError("Cannot delete your own account")
	}

	pb := h.store.Dialect.NewParamBuilder()
	affected, execErr := store.Exec(c.Context(), h.store.DB,
		"DELETE FROM ahoi_users WHERE id = "+pb.Add(id), pb.Params()...)
	if execErr != nil {
		return fmt.Errorf("delete user %d: %w", id, execErr)
	}
	if affected == 0 {
		return engine.NotFoundError("user", c.Params("id"))
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// Roles handles GET /ahoi/v1/roles. Non-administrators only see the
// roles they are allowed to assign.
func (h *Handler) Roles(c *fiber.Ctx) error {
	if err := requireUserManager(c); err != nil {
		return err
	}
	roles := fiber.Map{
		metadata.RoleManager: metadata.RoleCapabilities[metadata.RoleManager],
		metadata.RoleMember:  metadata.RoleCapabilities[metadata.RoleMember],
	}
	if p := auth.GetPrincipal(c); p != nil && p.IsAdministrator() {
		roles[metadata.RoleAdministrator] = []string{"*"}
	}
	return c.JSON(fiber.Map{"data": roles})
}

// RegisterRoutes mounts user endpoints on the given router group.
func RegisterRoutes(r fiber.Router, h *Handler) {
	r.Get("/users", h.List)
	r.Post("/users", h.Create)
	r.Get("/users/me", h.Me)
	r.Put("/users/me", h.UpdateMe)
	r.Get("/users/:id", h.Get)
	r.Put("/users/:id", h.Update)
	r.Delete("/users/:id", h.Delete)
	r.Get("/roles", h.Roles)
}

// --- helpers ---

func (h *Handler) applyUpdate(c *fiber.Ctx, id int64, allowRoleChange bool) error {
	var body struct {
		Email        *string        `json:"email"`
		DisplayName  *string        `json:"display_name"`
		Password     *string        `json:"password"`
		Role         *string        `json:"role"`
		Capabilities *[]string      `json:"capabilities"`
		Meta         map[string]any `json:"meta"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	pb := h.store.Dialect.NewParamBuilder()
	sets := []string{"updated_at = " + pb.Add(store.Now())}

	if body.Email != nil {
		if *body.Email == "" {
			return engine.ValidationError([]engine.ErrorDetail{{Field: "email", Message: "must not be empty"}})
		}
		sets = append(sets, "email = "+pb.Add(*body.Email))
	}
	if body.DisplayName != nil {
		sets = append(sets, "display_name = "+pb.Add(*body.DisplayName))
	}
	if body.Password != nil {
		if len(*body.Password) < 8 {
			return engine.ValidationError([]engine.ErrorDetail{{Field: "password", Message: "must be at least 8 characters"}})
		}
		hash, err := auth.HashPassword(*body.Password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		sets = append(sets, "password_hash = "+pb.Add(hash))
	}
	if body.Meta != nil {
		meta := body.Meta
		if !allowRoleChange {
			merged, err := h.mergeProfileMeta(c, id, body.Meta)
			if err != nil {
				return err
			}
			meta = merged
		}
		metaJSON, _ := json.Marshal(meta)
		sets = append(sets, "meta = "+pb.Add(string(metaJSON)))
	}

	if allowRoleChange {
		principal := auth.GetPrincipal(c)
		if body.Role != nil {
			if !validRole(*body.Role) {
				return engine.ValidationError([]engine.ErrorDetail{{Field: "role", Message: "unknown role"}})
			}
			if *body.Role == metadata.RoleAdministrator && !principal.IsAdministrator() {
				return engine.ForbiddenError("Only administrators can grant the administrator role")
			}
			sets = append(sets, "role = "+pb.Add(*body.Role))
		}
		if body.Capabilities != nil {
			capsJSON, _ := json.Marshal(*body.Capabilities)
			sets = append(sets, "capabilities = "+pb.Add(string(capsJSON)))
		}
	} else if body.Role != nil || body.Capabilities != nil {
		return engine.ForbiddenError("Role and capabilities cannot be changed here")
	}

	sqlStr := fmt.Sprintf("UPDATE ahoi_users SET %s WHERE id = %s",
		strings.Join(sets, ", "), pb.Add(id))
	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(store.MapError(h.store.Dialect, err), store.ErrUniqueViolation) {
			return engine.ConflictError("Email already taken")
		}
		return fmt.Errorf("update user %d: %w", id, err)
	}
	if affected == 0 {
		return engine.NotFoundError("user", fmt.Sprintf("%d", id))
	}

	user, err := h.fetchUser(c, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": auth.SanitizeUser(user)})
}

// profileMetaFields are the only meta keys a user may set on their own
// profile; everything else in the payload is ignored.
var profileMetaFields = []string{"first_name", "last_name", "phone_number", "company"}

func (h *Handler) mergeProfileMeta(c *fiber.Ctx, id int64, incoming map[string]any) (map[string]any, error) {
	user, err := h.fetchUser(c, id)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any)
	if raw, ok := user["meta"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			merged = make(map[string]any)
		}
	}
	for _, key := range profileMetaFields {
		if val, ok := incoming[key]; ok {
			merged[key] = val
		}
	}
	return merged, nil
}

func (h *Handler) fetchUser(c *fiber.Ctx, id int64) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	user, err := store.QueryRow(c.Context(), h.store.DB,
		"SELECT * FROM ahoi_users WHERE id = "+pb.Add(id), pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, engine.NotFoundError("user", fmt.Sprintf("%d", id))
		}
		return nil, fmt.Errorf("fetch user %d: %w", id, err)
	}
	return user, nil
}

func requireUserManager(c *fiber.Ctx) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	if !p.Can("manage_api_users") {
		return engine.ForbiddenError("Missing capability manage_api_users")
	}
	return nil
}

func parseUserID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, engine.NotFoundError("user", c.Params("id"))
	}
	return id, nil
}

func validRole(role string) bool {
	switch role {
	case metadata.RoleAdministrator, metadata.RoleManager, metadata.RoleMember:
		return true
	}
	return false
}
