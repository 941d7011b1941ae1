package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bus is the outbound side of messaging used by domain code.
type Bus interface {
	// Publish broadcasts an event to every endpoint bound to its type.
	Publish(ctx context.Context, event any) error

	// Send delivers a command to exactly one queue.
	// queue may carry the "queue:" prefix.
	Send(ctx context.Context, queue string, command any) error
}

// Endpoint describes a consuming queue and the types routed to it.
type Endpoint struct {
	// Name is the queue name without prefix.
	Name string
	// Types are the event types bound to the queue for Publish.
	// Commands sent to the queue are delivered regardless of type.
	Types []string
	// Prefetch limits unacknowledged deliveries. Zero leaves the transport default.
	Prefetch int
}

// Transport moves messages between processes or goroutines.
type Transport interface {
	// Publish delivers msg to every queue bound to its type.
	Publish(ctx context.Context, msg *Message) error

	// Send delivers msg to the named queue.
	Send(ctx context.Context, queue string, msg *Message) error

	// Subscribe declares the endpoint and returns its deliveries.
	// The channel closes when ctx is canceled or the transport is closed.
	Subscribe(ctx context.Context, ep Endpoint) (<-chan *Message, error)

	// Close releases transport resources.
	Close() error
}

// correlated is implemented by payloads that carry their correlation id.
type correlated interface {
	Correlation() uuid.UUID
}

// Dispatcher implements Bus on top of a Transport.
type Dispatcher struct {
	transport Transport
	cfg       DispatcherConfig
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(t Transport, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		transport: t,
		cfg:       cfg.defaults(),
	}
}

// Publish wraps event in a message and publishes it.
func (d *Dispatcher) Publish(ctx context.Context, event any) error {
	msg, err := d.envelope(ctx, event)
	if err != nil {
		return err
	}
	if err := d.transport.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Attributes[AttrType], err)
	}
	return nil
}

// Send wraps command in a message and sends it to queue.
func (d *Dispatcher) Send(ctx context.Context, queue string, command any) error {
	name := QueueName(queue)
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("send %T: empty queue", command)
	}
	msg, err := d.envelope(ctx, command)
	if err != nil {
		return err
	}
	if err := d.transport.Send(ctx, name, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Attributes[AttrType], name, err)
	}
	return nil
}

func (d *Dispatcher) envelope(ctx context.Context, payload any) (*Message, error) {
	t := TypeNameOf(d.cfg.Naming, payload)
	if t == "" {
		return nil, fmt.Errorf("%w: %T", ErrMissingType, payload)
	}
	attrs := Attributes{
		AttrID:          d.cfg.IDGenerator(),
		AttrSpecVersion: SpecVersion,
		AttrType:        t,
		AttrSource:      d.cfg.Source,
		AttrTime:        d.cfg.Now().UTC().Format(time.RFC3339Nano),
	}

	inbound := AttributesFromContext(ctx)
	if c, ok := payload.(correlated); ok && c.Correlation() != uuid.Nil {
		attrs[AttrCorrelationID] = c.Correlation().String()
	} else if id, ok := inbound.CorrelationID(); ok {
		attrs[AttrCorrelationID] = id
	}
	if id, ok := inbound.ID(); ok {
		attrs[AttrCausationID] = id
	}
	return New(payload, attrs), nil
}
