package files

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/istefan/ahoi-api/internal/auth"
	"github.com/istefan/ahoi-api/internal/engine"
	"github.com/istefan/ahoi-api/internal/storage"
	"github.com/istefan/ahoi-api/internal/store"
)

// Handler serves file upload, download and deletion.
type Handler struct {
	store       *store.Store
	blobs       storage.Store
	maxFileSize int64
}

func NewHandler(s *store.Store, blobs storage.Store, maxFileSize int64) *Handler {
	return &Handler{store: s, blobs: blobs, maxFileSize: maxFileSize}
}

// Upload handles POST /ahoi/v1/storage/upload (multipart form, field "file").
func (h *Handler) Upload(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	if !principal.Can("upload_files") {
		return engine.ForbiddenError("Missing capability upload_files")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Missing file field")
	}
	if h.maxFileSize > 0 && fileHeader.Size > h.maxFileSize {
		return engine.NewAppError("VALIDATION_FAILED", 400,
			fmt.Sprintf("File exceeds maximum size of %d bytes", h.maxFileSize))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	fileID := uuid.New().String()
	storagePath, err := h.blobs.Save(c.Context(), fileID, fileHeader.Filename, src)
	if err != nil {
		return engine.NewAppError("STORAGE_ERROR", 500, "Could not store file")
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`INSERT INTO ahoi_files (id, filename, storage_path, mime_type, size, uploaded_by, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(fileID), pb.Add(fileHeader.Filename), pb.Add(storagePath),
			pb.Add(mimeType), pb.Add(fileHeader.Size), pb.Add(principal.ID), pb.Add(store.Now())),
		pb.Params()...)
	if err != nil {
		_ = h.blobs.Delete(c.Context(), storagePath)
		return fmt.Errorf("record upload: %w", err)
	}

	return c.Status(201).JSON(fiber.Map{"data": fiber.Map{
		"id":        fileID,
		"filename":  fileHeader.Filename,
		"mime_type": mimeType,
		"size":      fileHeader.Size,
		"url":       "/ahoi/v1/storage/" + fileID,
	}})
}

// Download handles GET /ahoi/v1/storage/:id.
func (h *Handler) Download(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return engine.UnauthorizedError("Missing auth token")
	}

	row, err := h.fetchFile(c)
	if err != nil {
		return err
	}

	storagePath, _ := row["storage_path"].(string)
	reader, err := h.blobs.Open(c.Context(), storagePath)
	if err != nil {
		return engine.NewAppError("STORAGE_ERROR", 500, "Could not read file")
	}

	mimeType, _ := row["mime_type"].(string)
	filename, _ := row["filename"].(string)
	c.Set("Content-Type", mimeType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	return c.SendStream(reader)
}

// Delete handles DELETE /ahoi/v1/storage/:id. Only the uploader or an
// administrator may remove a file.
func (h *Handler) Delete(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return engine.UnauthorizedError("Missing auth token")
	}

	row, err := h.fetchFile(c)
	if err != nil {
		return err
	}

	uploadedBy := asInt64(row["uploaded_by"])
	if uploadedBy != principal.ID && !principal.IsAdministrator() {
		return engine.ForbiddenError("Only the uploader or an administrator can delete this file")
	}

	fileID, _ := row["id"].(string)
	pb := h.store.Dialect.NewParamBuilder()
	if _, err := store.Exec(c.Context(), h.store.DB,
		"DELETE FROM ahoi_files WHERE id = "+pb.Add(fileID), pb.Params()...); err != nil {
		return fmt.Errorf("delete file %s: %w", fileID, err)
	}

	storagePath, _ := row["storage_path"].(string)
	if err := h.blobs.Delete(c.Context(), storagePath); err != nil {
		return engine.NewAppError("STORAGE_ERROR", 500, "Could not remove file")
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"id": fileID}})
}

// RegisterRoutes mounts storage endpoints on the given router group.
func RegisterRoutes(r fiber.Router, h *Handler) {
	r.Post("/storage/upload", h.Upload)
	r.Get("/storage/:id", h.Download)
	r.Delete("/storage/:id", h.Delete)
}

func (h *Handler) fetchFile(c *fiber.Ctx) (map[string]any, error) {
	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(c.Context(), h.store.DB,
		"SELECT * FROM ahoi_files WHERE id = "+pb.Add(id), pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, engine.NotFoundError("file", id)
		}
		return nil, fmt.Errorf("fetch file %s: %w", id, err)
	}
	return row, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
