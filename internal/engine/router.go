package engine

import "github.com/gofiber/fiber/v2"

// RegisterDynamicRoutes mounts the generic CRUD handlers on the given
// router group. Concrete routes (auth, users, storage) must be
// registered first so they win over the :structure wildcard.
func RegisterDynamicRoutes(r fiber.Router, h *Handler) {
	r.Get("/:structure", h.List)
	r.Post("/:structure", h.Create)
	r.Get("/:structure/:id", h.GetByID)
	r.Put("/:structure/:id", h.Update)
	r.Patch("/:structure/:id", h.Update)
	r.Delete("/:structure/:id", h.Delete)
}
