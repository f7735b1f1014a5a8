package notify

import (
	"context"
	"fmt"

	"github.com/istefan/ahoi-api/internal/config"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends email notifications.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer builds a Mailer for the configured provider.
func NewMailer(cfg config.EmailConfig) (Mailer, error) {
	switch cfg.Provider {
	case "smtp":
		return NewSMTPMailer(cfg.SMTP), nil
	case "mock":
		return NewMockMailer(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
