package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/store"
)

type Handler struct {
	store      *store.Store
	registry   *metadata.Registry
	policy     string
	dispatcher *Dispatcher
}

func NewHandler(s *store.Store, reg *metadata.Registry, policy string, d *Dispatcher) *Handler {
	return &Handler{store: s, registry: reg, policy: policy, dispatcher: d}
}

// List handles GET /ahoi/v1/:structure
func (h *Handler) List(c *fiber.Ctx) error {
	s, err := h.resolveStructure(c)
	if err != nil {
		return err
	}

	principal := getPrincipal(c)
	if err := Authorize(principal, OpList, s.Slug, h.policy); err != nil {
		return err
	}

	plan, err := ParseListParams(c, s)
	if err != nil {
		return err
	}
	plan.OwnerID = OwnerScope(principal, h.policy)

	qr := BuildSelectSQL(h.store.Dialect, plan)
	rows, err := store.QueryRows(c.Context(), h.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return fmt.Errorf("list %s: %w", s.Slug, err)
	}
	h.normalizeRows(s, rows)

	cr := BuildCountSQL(h.store.Dialect, plan)
	countRow, err := store.QueryRow(c.Context(), h.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return fmt.Errorf("count %s: %w", s.Slug, err)
	}

	// Ensure non-nil slice for JSON
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     plan.Page,
			"per_page": plan.PerPage,
			"total":    countRow["total"],
		},
	})
}

// GetByID handles GET /ahoi/v1/:structure/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	s, err := h.resolveStructure(c)
	if err != nil {
		return err
	}

	principal := getPrincipal(c)
	if err := Authorize(principal, OpGet, s.Slug, h.policy); err != nil {
		return err
	}

	id, appErr := parseID(c, s)
	if appErr != nil {
		return appErr
	}

	row, err := h.fetchRecord(c.Context(), s, id, OwnerScope(principal, h.policy))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(s.Slug, c.Params("id"))
		}
		return fmt.Errorf("get %s/%d: %w", s.Slug, id, err)
	}

	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /ahoi/v1/:structure
func (h *Handler) Create(c *fiber.Ctx) error {
	s, err := h.resolveStructure(c)
	if err != nil {
		return err
	}

	principal := getPrincipal(c)
	if err := Authorize(principal, OpCreate, s.Slug, h.policy); err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	record, details := CoerceRecord(s, body, false)
	if len(details) > 0 {
		return ValidationError(details)
	}

	now := store.Now()
	cols := []string{"owner_id", "created_at", "updated_at"}
	vals := []any{principal.ID, now, now}
	for col, v := range record {
		cols = append(cols, col)
		vals = append(vals, v)
	}

	pb := h.store.Dialect.NewParamBuilder()
	placeholders := make([]string, len(vals))
	for i, v := range vals {
		placeholders[i] = pb.Add(v)
	}
	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.TableName(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	id, err := store.InsertID(c.Context(), h.store.DB, h.store.Dialect, sqlStr, pb.Params()...)
	if err != nil {
		return h.writeError(s, err)
	}

	row, err := h.fetchRecord(c.Context(), s, id, nil)
	if err != nil {
		return fmt.Errorf("read back %s/%d: %w", s.Slug, id, err)
	}

	h.dispatcher.Trigger(metadata.EventItemCreated, s.Slug, row)

	return c.Status(201).JSON(fiber.Map{"data": row})
}

// Update handles PUT and PATCH /ahoi/v1/:structure/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	s, err := h.resolveStructure(c)
	if err != nil {
		return err
	}

	principal := getPrincipal(c)
	if err := Authorize(principal, OpUpdate, s.Slug, h.policy); err != nil {
		return err
	}

	id, appErr := parseID(c, s)
	if appErr != nil {
		return appErr
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	record, details := CoerceRecord(s, body, true)
	if len(details) > 0 {
		return ValidationError(details)
	}
	if len(record) == 0 {
		return ValidationError([]ErrorDetail{{Message: "No updatable fields in payload"}})
	}

	pb := h.store.Dialect.NewParamBuilder()
	sets := []string{"updated_at = " + pb.Add(store.Now())}
	for col, v := range record {
		sets = append(sets, col+" = "+pb.Add(v))
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		s.TableName(), strings.Join(sets, ", "), pb.Add(id))
	ownerID := OwnerScope(principal, h.policy)
	if ownerID != nil {
		sqlStr += " AND owner_id = " + pb.Add(*ownerID)
	}

	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return h.writeError(s, err)
	}
	if affected == 0 {
		return NotFoundError(s.Slug, c.Params("id"))
	}

	row, err := h.fetchRecord(c.Context(), s, id, nil)
	if err != nil {
		return fmt.Errorf("read back %s/%d: %w", s.Slug, id, err)
	}

	h.dispatcher.Trigger(metadata.EventItemUpdated, s.Slug, row)

	return c.JSON(fiber.Map{"data": row})
}

// Delete handles DELETE /ahoi/v1/:structure/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	s, err := h.resolveStructure(c)
	if err != nil {
		return err
	}

	principal := getPrincipal(c)
	if err := Authorize(principal, OpDelete, s.Slug, h.policy); err != nil {
		return err
	}

	id, appErr := parseID(c, s)
	if appErr != nil {
		return appErr
	}

	ownerID := OwnerScope(principal, h.policy)

	// Snapshot the row first so subscribers see what was removed.
	row, err := h.fetchRecord(c.Context(), s, id, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(s.Slug, c.Params("id"))
		}
		return fmt.Errorf("fetch %s/%d: %w", s.Slug, id, err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE id = %s", s.TableName(), pb.Add(id))
	if ownerID != nil {
		sqlStr += " AND owner_id = " + pb.Add(*ownerID)
	}

	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete %s/%d: %w", s.Slug, id, err)
	}
	if affected == 0 {
		return NotFoundError(s.Slug, c.Params("id"))
	}

	h.dispatcher.Trigger(metadata.EventItemDeleted, s.Slug, row)

	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

func (h *Handler) resolveStructure(c *fiber.Ctx) (*metadata.Structure, error) {
	slug := c.Params("structure")
	s := h.registry.GetStructure(slug)
	if s == nil {
		return nil, UnknownStructureError(slug)
	}
	return s, nil
}

func (h *Handler) fetchRecord(ctx context.Context, s *metadata.Structure, id int64, ownerID *int64) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE id = %s", s.TableName(), pb.Add(id))
	if ownerID != nil {
		sqlStr += " AND owner_id = " + pb.Add(*ownerID)
	}
	row, err := store.QueryRow(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	h.normalizeRows(s, []map[string]any{row})
	return row, nil
}

func (h *Handler) normalizeRows(s *metadata.Structure, rows []map[string]any) {
	if !h.store.Dialect.NeedsBoolFix() {
		return
	}
	store.NormalizeBooleans(rows, s.BoolFieldSlugs())
}

func (h *Handler) writeError(s *metadata.Structure, err error) error {
	mapped := store.MapError(h.store.Dialect, err)
	if errors.Is(mapped, store.ErrUniqueViolation) {
		return ConflictError("A record with this value already exists")
	}
	return fmt.Errorf("write %s: %w", s.Slug, err)
}

func parseID(c *fiber.Ctx, s *metadata.Structure) (int64, *AppError) {
	raw := c.Params("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NotFoundError(s.Slug, raw)
	}
	return id, nil
}

func getPrincipal(c *fiber.Ctx) *metadata.Principal {
	p, _ := c.Locals("principal").(*metadata.Principal)
	return p
}
