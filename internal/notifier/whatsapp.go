package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the slice of the Twilio API service the sink needs.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type WhatsApp struct {
	api  messageCreator
	from string
	to   string
}

func NewWhatsApp(cfg WhatsAppConfig) (*WhatsApp, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio credentials are empty")
	}
	from := normalizeWhatsAppAddress(cfg.From)
	to := normalizeWhatsAppAddress(cfg.To)
	if from == "" || to == "" {
		return nil, errors.New("whatsapp from and to numbers are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{Username: cfg.AccountSID, Password: cfg.AuthToken})
	return &WhatsApp{api: client.Api, from: from, to: to}, nil
}

func (*WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Deliver(ctx context.Context, activityID int64, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(w.to)
	params.SetFrom(w.from)
	params.SetBody(formatPlain(title, message))

	if _, err := w.api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send message: %w", err)
	}
	return nil
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	switch {
	case trimmed == "":
		return ""
	case strings.HasPrefix(trimmed, "whatsapp:"):
		return trimmed
	case strings.HasPrefix(trimmed, "+"):
		return "whatsapp:" + trimmed
	default:
		return "whatsapp:+" + trimmed
	}
}
