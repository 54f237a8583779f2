package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jalsetu/apiserver/config"
	"github.com/jalsetu/apiserver/internal/mq"
	"github.com/jalsetu/apiserver/types"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu      sync.Mutex
	enabled bool
	err     error
	sent    []sentMail
}

func (f *fakeMailer) Enabled() bool { return f.enabled }

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type fakeMessenger struct {
	enabled bool
	err     error
	sent    []string
}

func (f *fakeMessenger) Enabled() bool { return f.enabled }

func (f *fakeMessenger) Send(_ context.Context, phone, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, phone+"|"+body)
	return nil
}

type fakeDirectory struct {
	accounts map[int]types.Account
	err      error
}

func (f *fakeDirectory) GetByID(_ context.Context, id int) (types.Account, error) {
	if f.err != nil {
		return types.Account{}, f.err
	}
	account, ok := f.accounts[id]
	if !ok {
		return types.Account{}, errors.New("not found")
	}
	return account, nil
}

func (f *fakeDirectory) ListByRole(_ context.Context, role types.Role) ([]types.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Account
	for id := 1; id <= len(f.accounts); id++ {
		if account, ok := f.accounts[id]; ok && account.Role() == role {
			out = append(out, account)
		}
	}
	return out, nil
}

func account(id int, name string, role types.Role) types.Account {
	return types.Account{
		User:    types.User{ID: id, Email: strings.ToLower(name) + "@example.com"},
		Profile: types.Profile{ID: id, FullName: name, Phone: "+9100000000" + string(rune('0'+id)), Role: role},
	}
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{accounts: map[int]types.Account{
		1: account(1, "Asha", types.RoleResident),
		2: account(2, "Officer", types.RoleOfficer),
		3: account(3, "Tech", types.RoleTechnician),
		4: account(4, "Second", types.RoleOfficer),
	}}
}

func mustTemplates(t *testing.T) *Templates {
	t.Helper()
	templates, err := DefaultTemplates()
	if err != nil {
		t.Fatalf("default templates: %v", err)
	}
	return templates
}

func TestDefaultTemplatesCoverEveryReportStatus(t *testing.T) {
	templates := mustTemplates(t)
	for _, status := range types.ReportStatuses() {
		if status == types.StatusPending {
			continue
		}
		if !templates.Has(string(types.ReportEventType(status))) {
			t.Errorf("missing template for %s", types.ReportEventType(status))
		}
	}
	for _, name := range []types.EventType{
		types.EventReportCreated,
		types.EventScheduleCreated,
		types.EventScheduleOpened,
		types.EventScheduleClosed,
		types.EventScheduleInterrupt,
	} {
		if !templates.Has(string(name)) {
			t.Errorf("missing template for %s", name)
		}
	}
}

func TestLoadTemplatesRejectsEmptyBody(t *testing.T) {
	if _, err := LoadTemplates([]byte("x:\n  subject: hi\n")); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestRenderRejectedIncludesReason(t *testing.T) {
	templates := mustTemplates(t)
	rendered, err := templates.Render("report.rejected", struct {
		Event types.Event
		Name  string
	}{Event: types.Event{ReportID: 7, Reason: "joint still leaking"}, Name: "Tech"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(rendered.Subject, "#7") {
		t.Fatalf("subject = %q", rendered.Subject)
	}
	if !strings.Contains(rendered.Body, "joint still leaking") || !strings.Contains(rendered.Body, "Hello Tech") {
		t.Fatalf("body = %q", rendered.Body)
	}
}

func TestHandleEvent_RolesAndRecipients(t *testing.T) {
	mailer := &fakeMailer{enabled: true}
	messenger := &fakeMessenger{enabled: true}
	d := NewDispatcher(newDirectory(), mustTemplates(t), mailer, messenger)

	err := d.HandleEvent(context.Background(), types.Event{
		Type:           types.EventReportCreated,
		ReportID:       11,
		ActorID:        1,
		Recipients:     []int{2},
		RecipientRoles: []types.Role{types.RoleOfficer},
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}

	// Officer 2 is listed twice but notified once.
	if len(mailer.sent) != 2 {
		t.Fatalf("sent %d mails, want 2", len(mailer.sent))
	}
	if mailer.sent[0].to != "officer@example.com" || mailer.sent[1].to != "second@example.com" {
		t.Fatalf("unexpected recipients: %+v", mailer.sent)
	}
	if len(messenger.sent) != 2 {
		t.Fatalf("sent %d whatsapp messages, want 2", len(messenger.sent))
	}
}

func TestHandleEvent_SkipsActor(t *testing.T) {
	mailer := &fakeMailer{enabled: true}
	d := NewDispatcher(newDirectory(), mustTemplates(t), mailer, nil)

	if err := d.HandleEvent(context.Background(), types.Event{
		Type:       types.ReportEventType(types.StatusApproved),
		ReportID:   3,
		ActorID:    2,
		Recipients: []int{1, 2},
	}); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "asha@example.com" {
		t.Fatalf("unexpected mails: %+v", mailer.sent)
	}
}

func TestHandleMessage_DropsMalformed(t *testing.T) {
	d := NewDispatcher(newDirectory(), mustTemplates(t), &fakeMailer{enabled: true}, nil)
	if err := d.HandleMessage(context.Background(), mq.Message{ID: "1", Data: []byte("{not json")}); err != nil {
		t.Fatalf("malformed message should be dropped, got %v", err)
	}
	if err := d.HandleMessage(context.Background(), mq.Message{ID: "2", Data: []byte(`{"type":"report.created"}`)}); err != nil {
		t.Fatalf("event without subject should be dropped, got %v", err)
	}
}

func TestHandleMessage_LookupFailureIsRetried(t *testing.T) {
	dir := newDirectory()
	dir.err = errors.New("db down")
	d := NewDispatcher(dir, mustTemplates(t), &fakeMailer{enabled: true}, nil)

	data, _ := json.Marshal(types.Event{Type: types.EventReportCreated, ReportID: 1, RecipientRoles: []types.Role{types.RoleOfficer}})
	if err := d.HandleMessage(context.Background(), mq.Message{ID: "1", Data: data}); err == nil {
		t.Fatal("expected error so the broker redelivers")
	}
}

func TestDeliver_PerChannelStatus(t *testing.T) {
	mailer := &fakeMailer{enabled: true, err: errors.New("relay refused")}
	messenger := &fakeMessenger{enabled: false}
	d := NewDispatcher(newDirectory(), mustTemplates(t), mailer, messenger)

	report := d.Deliver(context.Background(), Delivery{
		Email:   "a@example.com",
		Phone:   "+911234567890",
		Subject: "Hi",
		Body:    "Body",
	})
	if report[ChannelEmail] != "failed: relay refused" {
		t.Fatalf("email status = %q", report[ChannelEmail])
	}
	if report[ChannelWhatsApp] != StatusSkipped {
		t.Fatalf("whatsapp status = %q", report[ChannelWhatsApp])
	}
	if !report.Failed() {
		t.Fatal("report should be marked failed")
	}
}

func TestSendOTP(t *testing.T) {
	mailer := &fakeMailer{enabled: true}
	d := NewDispatcher(newDirectory(), mustTemplates(t), mailer, nil)

	if err := d.SendOTP(context.Background(), "new@example.com", "042917", 600*time.Second); err != nil {
		t.Fatalf("send otp: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d mails", len(mailer.sent))
	}
	if !strings.Contains(mailer.sent[0].body, "042917") || !strings.Contains(mailer.sent[0].body, "10 minutes") {
		t.Fatalf("otp body = %q", mailer.sent[0].body)
	}

	disabled := NewDispatcher(newDirectory(), mustTemplates(t), &fakeMailer{}, nil)
	if err := disabled.SendOTP(context.Background(), "x@example.com", "1", time.Minute); err == nil {
		t.Fatal("expected error without email")
	}
}

func TestParseChannels(t *testing.T) {
	channels, err := ParseChannels([]string{"Email", " whatsapp "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(channels) != 2 || channels[0] != ChannelEmail || channels[1] != ChannelWhatsApp {
		t.Fatalf("channels = %v", channels)
	}
	if _, err := ParseChannels([]string{"sms"}); err == nil {
		t.Fatal("expected error for sms")
	}
}

func TestEmailSender_BuildsMessage(t *testing.T) {
	sender := NewEmailSender(config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "portal@example.com"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	sender.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	if err := sender.Send(context.Background(), "res@example.com", "Report update", "line one\nline two"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "res@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Report update\r\n") || !strings.Contains(gotMsg, "line one\r\nline two") {
		t.Fatalf("message = %q", gotMsg)
	}

	if err := sender.Send(context.Background(), "a@example.com\r\nBcc: x@example.com", "s", "b"); err == nil {
		t.Fatal("expected header injection to be refused")
	}
	if NewEmailSender(config.SMTPConfig{}).Enabled() {
		t.Fatal("empty config should be disabled")
	}
}

type fakeTwilio struct {
	params *twilioApi.CreateMessageParams
}

func (f *fakeTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	return &twilioApi.ApiV2010Message{}, nil
}

func TestWhatsAppSender_Addresses(t *testing.T) {
	api := &fakeTwilio{}
	sender := &WhatsAppSender{api: api, from: whatsappAddress("+14155238886")}

	if err := sender.Send(context.Background(), "+91 98765 43210", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if *api.params.To != "whatsapp:+919876543210" {
		t.Fatalf("to = %q", *api.params.To)
	}
	if *api.params.From != "whatsapp:+14155238886" {
		t.Fatalf("from = %q", *api.params.From)
	}
	if *api.params.Body != "hello" {
		t.Fatalf("body = %q", *api.params.Body)
	}

	if NewWhatsAppSender(config.TwilioConfig{}).Enabled() {
		t.Fatal("empty config should be disabled")
	}
}

func TestPublisherRoundTrip(t *testing.T) {
	broker := mq.NewMemoryBroker(4)
	bus := mq.New(broker)
	defer bus.Close()

	publisher := NewPublisher(bus, "water.events")
	event := types.Event{Type: types.EventScheduleOpened, ScheduleID: 5, Area: "Ward 3", OccurredAt: time.Now().UTC()}
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan mq.Message, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Subscribe(ctx, "water.events", func(_ context.Context, msg mq.Message) error {
			got <- msg
			return nil
		})
	}()

	select {
	case msg := <-got:
		if msg.Attributes["type"] != string(types.EventScheduleOpened) {
			t.Fatalf("type attribute = %q", msg.Attributes["type"])
		}
		var decoded types.Event
		if err := json.Unmarshal(msg.Data, &decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.ScheduleID != 5 || decoded.Area != "Ward 3" {
			t.Fatalf("decoded = %+v", decoded)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	cancel()
	<-done
}
