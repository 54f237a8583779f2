package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jalsetu/apiserver/config"
	"github.com/jalsetu/apiserver/internal/mq"
	"github.com/jalsetu/apiserver/types"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Delivery statuses reported per channel.
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
)

// Mailer sends email.
type Mailer interface {
	Enabled() bool
	Send(ctx context.Context, to, subject, body string) error
}

// Messenger sends WhatsApp messages.
type Messenger interface {
	Enabled() bool
	Send(ctx context.Context, phone, body string) error
}

// Directory resolves event recipients.
type Directory interface {
	GetByID(ctx context.Context, id int) (types.Account, error)
	ListByRole(ctx context.Context, role types.Role) ([]types.Account, error)
}

// Report maps each channel to "sent", "skipped" or "failed: <reason>".
type Report map[Channel]string

// Failed reports whether any channel failed.
func (r Report) Failed() bool {
	for _, status := range r {
		if strings.HasPrefix(status, "failed") {
			return true
		}
	}
	return false
}

// Dispatcher turns domain events into email and WhatsApp messages.
type Dispatcher struct {
	directory Directory
	templates *Templates
	email     Mailer
	whatsapp  Messenger
}

func NewDispatcher(directory Directory, templates *Templates, email Mailer, whatsapp Messenger) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		templates: templates,
		email:     email,
		whatsapp:  whatsapp,
	}
}

// NewDispatcherFromConfig wires the embedded templates with the SMTP and
// Twilio senders. Unconfigured channels are skipped at send time.
func NewDispatcherFromConfig(directory Directory, cfg config.Config) (*Dispatcher, error) {
	templates, err := DefaultTemplates()
	if err != nil {
		return nil, err
	}
	return NewDispatcher(directory, templates, NewEmailSender(cfg.SMTP), NewWhatsAppSender(cfg.Twilio)), nil
}

// Run consumes events from channel until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, bus *mq.MQ, channel string) error {
	return bus.Subscribe(ctx, channel, d.HandleMessage)
}

// HandleMessage is the mq handler for published events. Malformed events
// are dropped; recipient lookup errors are returned so the broker retries.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg mq.Message) error {
	var event types.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil || !event.Valid() {
		slog.WarnContext(ctx, "dropping malformed event", "message_id", msg.ID, "error", err)
		return nil
	}
	return d.HandleEvent(ctx, event)
}

// HandleEvent notifies every recipient of event on every configured channel.
func (d *Dispatcher) HandleEvent(ctx context.Context, event types.Event) error {
	if !d.templates.Has(string(event.Type)) {
		slog.DebugContext(ctx, "no template for event", "type", event.Type)
		return nil
	}

	recipients, err := d.resolve(ctx, event)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}

	for _, account := range recipients {
		rendered, err := d.templates.Render(string(event.Type), struct {
			Event types.Event
			Name  string
		}{Event: event, Name: account.Profile.FullName})
		if err != nil {
			slog.ErrorContext(ctx, "render notification", "type", event.Type, "error", err)
			return nil
		}

		report := d.Deliver(ctx, Delivery{
			Email:   account.Email,
			Phone:   account.Profile.Phone,
			Subject: rendered.Subject,
			Body:    rendered.Body,
		})
		level := slog.LevelInfo
		if report.Failed() {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "notification dispatched",
			"type", event.Type,
			"user_id", account.ID,
			"email", report[ChannelEmail],
			"whatsapp", report[ChannelWhatsApp],
		)
	}
	return nil
}

// Delivery is one message addressed to one person.
// Empty Channels means every channel.
type Delivery struct {
	Email    string
	Phone    string
	Subject  string
	Body     string
	Channels []Channel
}

// Deliver attempts each requested channel independently.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) Report {
	channels := delivery.Channels
	if len(channels) == 0 {
		channels = []Channel{ChannelEmail, ChannelWhatsApp}
	}

	report := make(Report, len(channels))
	for _, channel := range channels {
		switch channel {
		case ChannelEmail:
			if d.email == nil || !d.email.Enabled() || delivery.Email == "" {
				report[channel] = StatusSkipped
				continue
			}
			report[channel] = outcome(d.email.Send(ctx, delivery.Email, delivery.Subject, delivery.Body))
		case ChannelWhatsApp:
			if d.whatsapp == nil || !d.whatsapp.Enabled() || delivery.Phone == "" {
				report[channel] = StatusSkipped
				continue
			}
			text := delivery.Body
			if delivery.Subject != "" {
				text = "*" + delivery.Subject + "*\n\n" + delivery.Body
			}
			report[channel] = outcome(d.whatsapp.Send(ctx, delivery.Phone, text))
		default:
			report[channel] = "failed: unknown channel"
		}
	}
	return report
}

// SendOTP mails a signup code synchronously.
func (d *Dispatcher) SendOTP(ctx context.Context, email, code string, ttl time.Duration) error {
	if d.email == nil || !d.email.Enabled() {
		return errors.New("email is not configured")
	}
	rendered, err := d.templates.Render(OTPTemplate, struct {
		Code    string
		Minutes int
	}{Code: code, Minutes: int(ttl.Round(time.Minute) / time.Minute)})
	if err != nil {
		return err
	}
	return d.email.Send(ctx, email, rendered.Subject, rendered.Body)
}

// ParseChannels validates channel names. Empty input selects every channel.
func ParseChannels(names []string) ([]Channel, error) {
	channels := make([]Channel, 0, len(names))
	for _, name := range names {
		channel := Channel(strings.ToLower(strings.TrimSpace(name)))
		switch channel {
		case ChannelEmail, ChannelWhatsApp:
			channels = append(channels, channel)
		default:
			return nil, fmt.Errorf("unknown channel %q", name)
		}
	}
	return channels, nil
}

func (d *Dispatcher) resolve(ctx context.Context, event types.Event) ([]types.Account, error) {
	seen := make(map[int]struct{})
	var accounts []types.Account
	add := func(account types.Account) {
		if account.ID == event.ActorID {
			return
		}
		if _, ok := seen[account.ID]; ok {
			return
		}
		seen[account.ID] = struct{}{}
		accounts = append(accounts, account)
	}

	for _, id := range event.Recipients {
		account, err := d.directory.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", id, err)
		}
		add(account)
	}
	for _, role := range event.RecipientRoles {
		members, err := d.directory.ListByRole(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", role, err)
		}
		for _, account := range members {
			add(account)
		}
	}
	return accounts, nil
}

func outcome(err error) string {
	if err != nil {
		return "failed: " + err.Error()
	}
	return StatusSent
}
