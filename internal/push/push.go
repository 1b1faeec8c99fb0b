package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// Publisher is the MQTT publishing surface the notifier needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Subscriber is the MQTT subscription surface the listener needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Handler reacts to one wake-up. The payload is advisory.
type Handler func(ctx context.Context, payload []byte) error

// Notifier publishes record store changes as MQTT wake-ups.
type Notifier struct {
	pub Publisher
	qos byte
}

// NewNotifier creates a notifier publishing at qos.
func NewNotifier(pub Publisher, qos byte) *Notifier {
	return &Notifier{pub: pub, qos: qos}
}

// Notify implements recordstore.Notifier.
func (n *Notifier) Notify(_ context.Context, change recordstore.Change) error {
	if !mqtt.ValidSegment(change.SubscriptionID) {
		return fmt.Errorf("%w: subscription %q is not a valid topic level", mqtt.ErrInvalidTopic, change.SubscriptionID)
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	return n.pub.Publish(mqtt.Topics{}.Notify(change.SubscriptionID), payload, n.qos, false)
}

// Listener routes wake-ups for store subscriptions to handlers.
type Listener struct {
	ctx context.Context
	sub Subscriber
	qos byte

	mu     sync.Mutex
	topics []string
}

// NewListener creates a listener. Handlers run with ctx.
func NewListener(ctx context.Context, sub Subscriber, qos byte) *Listener {
	return &Listener{ctx: ctx, sub: sub, qos: qos}
}

// Listen subscribes to wake-ups for subscriptionID.
func (l *Listener) Listen(subscriptionID string, h Handler) error {
	if !mqtt.ValidSegment(subscriptionID) {
		return fmt.Errorf("%w: subscription %q is not a valid topic level", mqtt.ErrInvalidTopic, subscriptionID)
	}
	topic := mqtt.Topics{}.Notify(subscriptionID)
	err := l.sub.Subscribe(topic, l.qos, func(_ string, payload []byte) error {
		if l.ctx.Err() != nil {
			return nil
		}
		return h(l.ctx, payload)
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.topics = append(l.topics, topic)
	l.mu.Unlock()
	return nil
}

// Close unsubscribes every topic registered through Listen and returns the
// first failure. A disconnected broker is not a failure.
func (l *Listener) Close() error {
	l.mu.Lock()
	topics := l.topics
	l.topics = nil
	l.mu.Unlock()

	var first error
	for _, t := range topics {
		if err := l.sub.Unsubscribe(t); err != nil && !errors.Is(err, mqtt.ErrNotConnected) && first == nil {
			first = err
		}
	}
	return first
}
