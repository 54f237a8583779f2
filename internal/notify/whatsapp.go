package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jalsetu/apiserver/config"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const whatsappPrefix = "whatsapp:"

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// WhatsAppSender sends WhatsApp messages through the Twilio API.
type WhatsAppSender struct {
	api  messageCreator
	from string
}

// NewWhatsAppSender returns a disabled sender when credentials are missing.
func NewWhatsAppSender(cfg config.TwilioConfig) *WhatsAppSender {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return &WhatsAppSender{}
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &WhatsAppSender{api: client.Api, from: whatsappAddress(cfg.From)}
}

// Enabled reports whether Twilio credentials are configured.
func (w *WhatsAppSender) Enabled() bool {
	return w != nil && w.api != nil
}

// Send delivers body to phone, an E.164 number.
func (w *WhatsAppSender) Send(ctx context.Context, phone, body string) error {
	if !w.Enabled() {
		return errors.New("whatsapp is not configured")
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("recipient has no phone number")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(phone))
	params.SetFrom(w.from)
	params.SetBody(body)

	if _, err := w.api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	return nil
}

func whatsappAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + strings.ReplaceAll(number, " ", "")
}
