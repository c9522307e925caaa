package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/vitrola-discos/api/internal/services"
)

// PubSubPublisher fans domain events out to a Pub/Sub topic. One topic
// carries every event type; consumers filter on the "event" attribute.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var (
	_ services.AdjustmentEventPublisher = (*PubSubPublisher)(nil)
	_ services.CouponEventPublisher     = (*PubSubPublisher)(nil)
	_ services.StockEventPublisher      = (*PubSubPublisher)(nil)
)

// NewPubSubPublisher constructs a Pub/Sub backed domain event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishAdjustmentEvent emits one adjustment lifecycle event.
func (p *PubSubPublisher) PublishAdjustmentEvent(ctx context.Context, event services.AdjustmentEvent) error {
	attrs := make(map[string]string)
	setAttr(attrs, "event", event.Type)
	setAttr(attrs, "kind", string(event.Kind))
	setAttr(attrs, "requestId", event.RequestID)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.CurrentStatus)
	return p.publish(ctx, event, attrs)
}

// PublishCouponEvent emits one coupon lifecycle event.
func (p *PubSubPublisher) PublishCouponEvent(ctx context.Context, event services.CouponEvent) error {
	attrs := make(map[string]string)
	setAttr(attrs, "event", event.Type)
	setAttr(attrs, "code", event.Code)
	setAttr(attrs, "requestId", event.RequestID)
	return p.publish(ctx, event, attrs)
}

// PublishStockEvent emits one stock ledger event.
func (p *PubSubPublisher) PublishStockEvent(ctx context.Context, event services.StockEvent) error {
	attrs := make(map[string]string)
	setAttr(attrs, "event", event.Type)
	setAttr(attrs, "productId", event.ProductRef)
	setAttr(attrs, "delta", strconv.Itoa(event.Delta))
	return p.publish(ctx, event, attrs)
}

func (p *PubSubPublisher) publish(ctx context.Context, payload any, attrs map[string]string) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
