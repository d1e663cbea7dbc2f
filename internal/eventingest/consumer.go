package eventingest

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/passrepo/depositorch/internal/logging"
)

// SubjectSubmissionEvents and SubjectDepositEvents are the JetStream
// subjects the upstream repository publishes entity-change events to
// (spec.md §6 [NEW]).
const (
	SubjectSubmissionEvents = "deposit.events.submission"
	SubjectDepositEvents    = "deposit.events.deposit"
)

// Handler processes one admitted Envelope. Handlers are registered per
// subject, one per subscription.
type Handler func(ctx context.Context, env Envelope) error

// Consumer subscribes to JetStream subjects and dispatches admitted events
// to their registered Handler, dropping everything Admissible rejects.
type Consumer struct {
	js        nats.JetStreamContext
	SelfAgent string

	subs []*nats.Subscription
}

// NewConsumer wraps an already-connected NATS JetStream context.
func NewConsumer(js nats.JetStreamContext, selfAgent string) *Consumer {
	return &Consumer{js: js, SelfAgent: selfAgent}
}

// Connect dials url and returns a Consumer bound to its JetStream context.
func Connect(url, selfAgent string) (*Consumer, func() error, error) {
	nc, err := nats.Connect(url, nats.Name(selfAgent))
	if err != nil {
		return nil, nil, fmt.Errorf("eventingest: connect %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("eventingest: jetstream context: %w", err)
	}
	return NewConsumer(js, selfAgent), func() error { nc.Close(); return nil }, nil
}

// Subscribe durably consumes subject, invoking handler for every admitted
// event and acking the message regardless of handler outcome (spec.md §4.8:
// handler failures are reported to the central error handler, not retried
// at the transport level — that would reintroduce the retry storms CSE's
// keyed mutex exists to avoid).
func (c *Consumer) Subscribe(ctx context.Context, subject, durableName string, handler Handler) error {
	log := logging.With("component", "eventingest", "subject", subject)

	sub, err := c.js.Subscribe(subject, func(msg *nats.Msg) {
		env, err := Decode(msg.Data)
		if err != nil {
			log.Warn("malformed event envelope, dropping", "error", err)
			msg.Ack()
			return
		}
		if !Admissible(env, c.SelfAgent) {
			log.Debug("event not admissible, dropping", "entity_type", env.EntityType, "event_type", env.EventType)
			msg.Ack()
			return
		}
		if err := handler(ctx, env); err != nil {
			log.Warn("handler returned error", "entity_id", env.EntityID, "error", err)
		}
		msg.Ack()
	}, nats.Durable(durableName), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("eventingest: subscribe %s: %w", subject, err)
	}

	c.subs = append(c.subs, sub)
	return nil
}

// Close unsubscribes every active subscription.
func (c *Consumer) Close() error {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	return nil
}
