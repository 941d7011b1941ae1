package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxsml/privatesocial/message"
)

// delivery is a queued message together with its attempt number.
type delivery struct {
	msg     *message.Message
	attempt int
}

type queue struct {
	name string
	ch   chan *delivery
}

// ChannelBroker is an in-process message transport using Go channels.
type ChannelBroker struct {
	config ChannelBrokerConfig

	mu       sync.RWMutex
	queues   map[string]*queue
	bindings map[string]map[string]struct{} // event type -> queue names
	closed   bool
	done     chan struct{}

	deadMu sync.Mutex
	dead   []DeadLetter
}

var _ message.Transport = (*ChannelBroker)(nil)

// NewChannelBroker creates a new in-process broker.
func NewChannelBroker(config ChannelBrokerConfig) *ChannelBroker {
	return &ChannelBroker{
		config:   config.defaults(),
		queues:   make(map[string]*queue),
		bindings: make(map[string]map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Publish enqueues msg on every queue bound to its type.
// Events without bindings are dropped, like on a fan-out exchange without queues.
func (b *ChannelBroker) Publish(ctx context.Context, msg *message.Message) error {
	t, ok := msg.Attributes.Type()
	if !ok {
		return message.ErrMissingType
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	targets := make([]*queue, 0, len(b.bindings[t]))
	for name := range b.bindings[t] {
		targets = append(targets, b.queues[name])
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		b.config.Logger.Debug().Str("type", t).Msg("No queue bound, event dropped")
		return nil
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })

	for _, q := range targets {
		if err := b.enqueue(ctx, q, &delivery{msg: msg.Clone(), attempt: 1}); err != nil {
			return fmt.Errorf("queue %s: %w", q.name, err)
		}
	}
	return nil
}

// Send enqueues msg on the named queue, declaring it if needed.
func (b *ChannelBroker) Send(ctx context.Context, name string, msg *message.Message) error {
	name = message.QueueName(name)
	q, err := b.declare(name)
	if err != nil {
		return err
	}
	return b.enqueue(ctx, q, &delivery{msg: msg.Clone(), attempt: 1})
}

// Subscribe declares the endpoint queue, binds its types and returns a
// channel of deliveries. Several subscriptions to the same queue compete.
// The channel is closed when ctx is canceled or the broker is closed.
func (b *ChannelBroker) Subscribe(ctx context.Context, ep message.Endpoint) (<-chan *message.Message, error) {
	if ep.Name == "" {
		return nil, errors.New("broker: endpoint name is required")
	}
	q, err := b.declare(ep.Name)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	for _, t := range ep.Types {
		if b.bindings[t] == nil {
			b.bindings[t] = make(map[string]struct{})
		}
		b.bindings[t][q.name] = struct{}{}
	}
	b.mu.Unlock()

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case d := <-q.ch:
				select {
				case out <- b.deliver(q, d):
				case <-ctx.Done():
					b.putBack(q, d)
					return
				case <-b.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Close stops all subscriptions and pending redeliveries.
func (b *ChannelBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.closed = true
	close(b.done)
	return nil
}

// Depth returns the number of messages waiting in the named queue.
func (b *ChannelBroker) Depth(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[message.QueueName(name)]
	if !ok {
		return 0
	}
	return len(q.ch)
}

// DeadLetters returns a copy of all dead-lettered messages.
func (b *ChannelBroker) DeadLetters() []DeadLetter {
	b.deadMu.Lock()
	defer b.deadMu.Unlock()
	return append([]DeadLetter(nil), b.dead...)
}

func (b *ChannelBroker) declare(name string) (*queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	q, ok := b.queues[name]
	if !ok {
		q = &queue{name: name, ch: make(chan *delivery, b.config.BufferSize)}
		b.queues[name] = q
	}
	return q, nil
}

func (b *ChannelBroker) enqueue(ctx context.Context, q *queue, d *delivery) error {
	select {
	case q.ch <- d:
		return nil
	default:
	}

	if b.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.SendTimeout)
		defer cancel()
	}
	select {
	case q.ch <- d:
		return nil
	case <-b.done:
		return ErrBrokerClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrSendTimeout
		}
		return ctx.Err()
	}
}

// putBack returns an undelivered message to its queue without counting an attempt.
func (b *ChannelBroker) putBack(q *queue, d *delivery) {
	go func() {
		if err := b.enqueue(context.Background(), q, d); err != nil {
			b.config.Logger.Warn().Err(err).Str("queue", q.name).Msg("Message lost on shutdown")
		}
	}()
}

// deliver builds the message handed to a subscriber. Its acking either
// completes the delivery or schedules a redelivery.
func (b *ChannelBroker) deliver(q *queue, d *delivery) *message.Message {
	m := d.msg.Clone()
	m.Attributes[message.AttrDeliveryCount] = d.attempt
	acking := message.NewAcking(
		func() {},
		func(err error) { b.nacked(q, d, err) },
	)
	return message.NewWithAcking(m.Data, m.Attributes, acking)
}

func (b *ChannelBroker) nacked(q *queue, d *delivery, err error) {
	if message.IsPermanent(err) || (b.config.MaxDeliveries > 0 && d.attempt >= b.config.MaxDeliveries) {
		b.deadLetter(q, d, err)
		return
	}

	if b.config.Observer != nil {
		b.config.Observer.Redelivered(q.name)
	}
	wait := b.config.Backoff(d.attempt)
	next := &delivery{msg: d.msg, attempt: d.attempt + 1}
	time.AfterFunc(wait, func() {
		if err := b.enqueue(context.Background(), q, next); err != nil {
			b.config.Logger.Warn().Err(err).Str("queue", q.name).Msg("Redelivery dropped")
		}
	})
}

func (b *ChannelBroker) deadLetter(q *queue, d *delivery, err error) {
	dl := DeadLetter{
		Queue:   q.name,
		Message: d.msg.Clone(),
		Err:     err,
		At:      time.Now(),
	}
	dl.Message.Attributes[message.AttrDeliveryCount] = d.attempt

	b.deadMu.Lock()
	b.dead = append(b.dead, dl)
	b.deadMu.Unlock()

	typ, _ := d.msg.Attributes.Type()
	id, _ := d.msg.Attributes.ID()
	b.config.Logger.Error().Err(err).
		Str("queue", q.name).
		Str("type", typ).
		Str("id", id).
		Int("delivery", d.attempt).
		Msg("Message dead-lettered")

	if b.config.Observer != nil {
		b.config.Observer.DeadLettered(q.name)
	}
	if b.config.DeadLetterHandler != nil {
		b.config.DeadLetterHandler(dl)
	}
}
