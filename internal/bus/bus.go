// Package bus provides the event bus used for async screening requests,
// screening results, fraud alerts and rule notifications.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReplyToKey is the message metadata key holding the reply topic of a request.
const ReplyToKey = "reply_to"

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New creates the event bus named in config.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON marshals v and publishes it.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return b.Publish(ctx, topic, data)
}

// Reply answers a message received through Request. Messages without a
// reply topic are ignored.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	to := msg.Metadata[ReplyToKey]
	if to == "" {
		return nil
	}
	return b.Publish(ctx, to, payload)
}

// Notifier publishes rule notifications onto the bus for an external
// dispatcher to deliver.
type Notifier struct {
	bus   domain.EventBus
	topic string
}

// NewNotifier creates a Notifier publishing to domain.TopicNotification.
func NewNotifier(b domain.EventBus) *Notifier {
	return &Notifier{bus: b, topic: domain.TopicNotification}
}

var _ domain.Notifier = (*Notifier)(nil)

// Notify publishes n. The channel is appended to the topic so consumers can
// subscribe per channel, e.g. kestrel.notification.compliance.
func (n *Notifier) Notify(ctx context.Context, note *domain.Notification) error {
	topic := n.topic
	if note.Channel != "" {
		topic += "." + note.Channel
	}
	return PublishJSON(ctx, n.bus, topic, note)
}
