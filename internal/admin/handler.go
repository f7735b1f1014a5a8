package admin

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/engine"
	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/schema"
	"github.com/istefan/ahoi-api/internal/store"
)

// Handler serves the administrator-only definition API: structures,
// fields and webhook subscriptions.
type Handler struct {
	store      *store.Store
	registry   *metadata.Registry
	schema     *schema.Manager
	dispatcher *engine.Dispatcher
}

func NewHandler(s *store.Store, reg *metadata.Registry, mgr *schema.Manager, d *engine.Dispatcher) *Handler {
	return &Handler{store: s, registry: reg, schema: mgr, dispatcher: d}
}

// ListStructures handles GET /ahoi/v1/_admin/structures.
func (h *Handler) ListStructures(c *fiber.Ctx) error {
	structures := h.registry.AllStructures()
	if structures == nil {
		structures = []*metadata.Structure{}
	}
	return c.JSON(fiber.Map{"data": structures})
}

// GetStructure handles GET /ahoi/v1/_admin/structures/:slug.
func (h *Handler) GetStructure(c *fiber.Ctx) error {
	slug := c.Params("slug")
	s := h.registry.GetStructure(slug)
	if s == nil {
		return engine.UnknownStructureError(slug)
	}
	return c.JSON(fiber.Map{"data": s})
}

// CreateStructure handles POST /ahoi/v1/_admin/structures.
func (h *Handler) CreateStructure(c *fiber.Ctx) error {
	var in schema.CreateStructureInput
	if err := c.BodyParser(&in); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	s, err := h.schema.CreateStructure(c.Context(), in)
	if err != nil {
		return h.schemaError(err)
	}
	return c.Status(201).JSON(fiber.Map{"data": s})
}

// DeleteStructure handles DELETE /ahoi/v1/_admin/structures/:slug. The
// data table and all its records are dropped with it.
func (h *Handler) DeleteStructure(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if err := h.schema.DeleteStructure(c.Context(), slug); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.UnknownStructureError(slug)
		}
		return h.schemaError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"slug": slug}})
}

// AddField handles POST /ahoi/v1/_admin/structures/:slug/fields.
func (h *Handler) AddField(c *fiber.Ctx) error {
	slug := c.Params("slug")

	var in schema.FieldInput
	if err := c.BodyParser(&in); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	s, err := h.schema.AddField(c.Context(), slug, in)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.UnknownStructureError(slug)
		}
		if errors.Is(err, store.ErrUniqueViolation) {
			return engine.ConflictError(fmt.Sprintf("Field %s already exists on %s", in.Slug, slug))
		}
		return h.schemaError(err)
	}
	return c.Status(201).JSON(fiber.Map{"data": s})
}

// DropField handles DELETE /ahoi/v1/_admin/structures/:slug/fields/:field.
func (h *Handler) DropField(c *fiber.Ctx) error {
	slug := c.Params("slug")
	fieldSlug := c.Params("field")

	if err := h.schema.DropField(c.Context(), slug, fieldSlug); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.NotFoundError("field", fieldSlug)
		}
		return h.schemaError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"slug": slug, "field": fieldSlug}})
}

// ListWebhooks handles GET /ahoi/v1/_admin/webhooks.
func (h *Handler) ListWebhooks(c *fiber.Ctx) error {
	subs := h.registry.Subscriptions()
	if subs == nil {
		subs = []*metadata.Subscription{}
	}
	return c.JSON(fiber.Map{"data": subs})
}

// CreateWebhook handles POST /ahoi/v1/_admin/webhooks.
func (h *Handler) CreateWebhook(c *fiber.Ctx) error {
	var body struct {
		TargetURL     string `json:"target_url"`
		EventName     string `json:"event_name"`
		StructureSlug string `json:"structure_slug"`
		Condition     string `json:"condition"`
		Status        string `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	var details []engine.ErrorDetail
	if body.TargetURL == "" {
		details = append(details, engine.ErrorDetail{Field: "target_url", Message: "is required"})
	} else if !validTargetURL(body.TargetURL) {
		details = append(details, engine.ErrorDetail{Field: "target_url", Message: "must be an http or https URL"})
	}
	if body.EventName == "" {
		details = append(details, engine.ErrorDetail{Field: "event_name", Message: "is required"})
	}
	if body.Status == "" {
		body.Status = "active"
	}
	if body.Status != "active" && body.Status != "paused" {
		details = append(details, engine.ErrorDetail{Field: "status", Message: "must be active or paused"})
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}

	pb := h.store.Dialect.NewParamBuilder()
	id, err := store.InsertID(c.Context(), h.store.DB, h.store.Dialect,
		fmt.Sprintf(`INSERT INTO ahoi_webhooks (target_url, event_name, structure_slug, condition, status, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s)`,
			pb.Add(body.TargetURL), pb.Add(body.EventName), pb.Add(body.StructureSlug),
			pb.Add(body.Condition), pb.Add(body.Status), pb.Add(store.Now())),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	if err := h.reloadSubscriptions(c); err != nil {
		return err
	}

	return c.Status(201).JSON(fiber.Map{"data": h.findSubscription(id)})
}

// UpdateWebhook handles PUT /ahoi/v1/_admin/webhooks/:id.
func (h *Handler) UpdateWebhook(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return engine.NotFoundError("webhook", c.Params("id"))
	}

	var body struct {
		TargetURL     *string `json:"target_url"`
		EventName     *string `json:"event_name"`
		StructureSlug *string `json:"structure_slug"`
		Condition     *string `json:"condition"`
		Status        *string `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	pb := h.store.Dialect.NewParamBuilder()
	var sets []string
	if body.TargetURL != nil {
		if !validTargetURL(*body.TargetURL) {
			return engine.ValidationError([]engine.ErrorDetail{{Field: "target_url", Message: "must be an http or https URL"}})
		}
		sets = append(sets, "target_url = "+pb.Add(*body.TargetURL))
	}
	if body.EventName != nil {
		sets = append(sets, "event_name = "+pb.Add(*body.EventName))
	}
	if body.StructureSlug != nil {
		sets = append(sets, "structure_slug = "+pb.Add(*body.StructureSlug))
	}
	if body.Condition != nil {
		sets = append(sets, "condition = "+pb.Add(*body.Condition))
	}
	if body.Status != nil {
		if *body.Status != "active" && *body.Status != "paused" {
			return engine.ValidationError([]engine.ErrorDetail{{Field: "status", Message: "must be active or paused"}})
		}
		sets = append(sets, "status = "+pb.Add(*body.Status))
	}
	if len(sets) == 0 {
		return engine.ValidationError([]engine.ErrorDetail{{Message: "No updatable fields in payload"}})
	}

	sqlStr := "UPDATE ahoi_webhooks SET "
	for i, s := range sets {
		if i > 0 {
			sqlStr += ", "
		}
		sqlStr += s
	}
	sqlStr += " WHERE id = " + pb.Add(id)

	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update webhook %d: %w", id, err)
	}
	if affected == 0 {
		return engine.NotFoundError("webhook", c.Params("id"))
	}

	if err := h.reloadSubscriptions(c); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": h.findSubscription(id)})
}

// DeleteWebhook handles DELETE /ahoi/v1/_admin/webhooks/:id.
func (h *Handler) DeleteWebhook(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return engine.NotFoundError("webhook", c.Params("id"))
	}

	pb := h.store.Dialect.NewParamBuilder()
	affected, execErr := store.Exec(c.Context(), h.store.DB,
		"DELETE FROM ahoi_webhooks WHERE id = "+pb.Add(id), pb.Params()...)
	if execErr != nil {
		return fmt.Errorf("delete webhook %d: %w", id, execErr)
	}
	if affected == 0 {
		return engine.NotFoundError("webhook", c.Params("id"))
	}

	if err := h.reloadSubscriptions(c); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// RegisterRoutes mounts the definition API on the given router group.
// The group must already enforce administrator access.
func RegisterRoutes(r fiber.Router, h *Handler) {
	r.Get("/structures", h.ListStructures)
	r.Post("/structures", h.CreateStructure)
	r.Get("/structures/:slug", h.GetStructure)
	r.Delete("/structures/:slug", h.DeleteStructure)
	r.Post("/structures/:slug/fields", h.AddField)
	r.Delete("/structures/:slug/fields/:field", h.DropField)

	r.Get("/webhooks", h.ListWebhooks)
	r.Post("/webhooks", h.CreateWebhook)
	r.Put("/webhooks/:id", h.UpdateWebhook)
	r.Delete("/webhooks/:id", h.DeleteWebhook)
}

// --- helpers ---

func (h *Handler) reloadSubscriptions(c *fiber.Ctx) error {
	if err := metadata.Reload(c.Context(), h.store, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	h.dispatcher.InvalidateConditions()
	return nil
}

func (h *Handler) findSubscription(id int64) *metadata.Subscription {
	for _, sub := range h.registry.Subscriptions() {
		if sub.ID == id {
			return sub
		}
	}
	return nil
}

func validTargetURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *Handler) schemaError(err error) error {
	var vErr *schema.ValidationError
	if errors.As(err, &vErr) {
		return engine.ValidationError([]engine.ErrorDetail{{Message: vErr.Msg}})
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return engine.ConflictError("A structure with this slug already exists")
	}
	return err
}
