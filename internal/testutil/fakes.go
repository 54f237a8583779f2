package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/jalsetu/apiserver/internal/storage"
	"github.com/jalsetu/apiserver/types"
)

// Photos is an in-memory object store.
type Photos struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewPhotos() *Photos {
	return &Photos{objects: make(map[string][]byte)}
}

func (p *Photos) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = data
	return nil
}

func (p *Photos) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *Photos) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, key)
	return nil
}

// Has reports whether key is stored.
func (p *Photos) Has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[key]
	return ok
}

// Len returns the number of stored objects.
func (p *Photos) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

// Events records published events.
type Events struct {
	mu     sync.Mutex
	events []types.Event
}

func (e *Events) Publish(_ context.Context, event types.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

// All returns a copy of every event published so far.
func (e *Events) All() []types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Event(nil), e.events...)
}

// Types returns the type of every event published so far, in order.
func (e *Events) Types() []types.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.EventType, len(e.events))
	for i, event := range e.events {
		out[i] = event.Type
	}
	return out
}

// OTPInbox captures signup codes instead of mailing them.
type OTPInbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func NewOTPInbox() *OTPInbox {
	return &OTPInbox{codes: make(map[string]string)}
}

func (o *OTPInbox) SendOTP(_ context.Context, email, code string, _ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[email] = code
	return nil
}

// Code returns the last code sent to email.
func (o *OTPInbox) Code(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[email]
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
