package notify

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/auth"
	"github.com/istefan/ahoi-api/internal/engine"
)

// Handler serves the email notification endpoint.
type Handler struct {
	mailer Mailer
}

func NewHandler(mailer Mailer) *Handler {
	return &Handler{mailer: mailer}
}

// SendEmail handles POST /ahoi/v1/notifications/email.
func (h *Handler) SendEmail(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	if !principal.Can("send_api_emails") {
		return engine.ForbiddenError("Missing capability send_api_emails")
	}
	if h.mailer == nil {
		return engine.NewAppError("EMAIL_DISABLED", 503, "Email sending is not configured")
	}

	var body struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	var details []engine.ErrorDetail
	if body.To == "" {
		details = append(details, engine.ErrorDetail{Field: "to", Message: "is required"})
	}
	if body.Subject == "" {
		details = append(details, engine.ErrorDetail{Field: "subject", Message: "is required"})
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}

	if err := h.mailer.Send(c.Context(), Message{To: body.To, Subject: body.Subject, Body: body.Body}); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"sent": true}})
}

// RegisterRoutes mounts notification endpoints on the given router group.
func RegisterRoutes(r fiber.Router, h *Handler) {
	r.Post("/notifications/email", h.SendEmail)
}
