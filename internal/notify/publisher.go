package notify

import (
	"context"
	"encoding/json"

	"github.com/jalsetu/apiserver/internal/mq"
	"github.com/jalsetu/apiserver/types"
)

// Publisher puts domain events on the message bus as JSON.
type Publisher struct {
	bus     *mq.MQ
	channel string
}

func NewPublisher(bus *mq.MQ, channel string) *Publisher {
	return &Publisher{bus: bus, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.bus.Publish(ctx, p.channel, data, map[string]string{
		"type":         string(event.Type),
		"content-type": "application/json",
	})
	return err
}
