// Package broker provides an in-process message transport.
//
// The ChannelBroker models a RabbitMQ-like topology with Go channels:
// every endpoint owns a named queue, events are fanned out to the queues
// bound to their type, and commands go to exactly one queue. Subscribers of
// the same queue compete for its messages. Nacked messages are redelivered
// with backoff until MaxDeliveries is reached, then dead-lettered.
package broker

import (
	"errors"
	"time"

	"github.com/fxsml/privatesocial/message"
	"github.com/rs/zerolog"
)

var (
	// ErrBrokerClosed is returned when operations are attempted on a closed broker.
	ErrBrokerClosed = errors.New("broker is closed")
	// ErrSendTimeout is returned when a queue stays full for longer than SendTimeout.
	ErrSendTimeout = errors.New("send timeout")
)

// Observer is notified about delivery outcomes. Implemented by metrics.Metrics.
type Observer interface {
	Redelivered(queue string)
	DeadLettered(queue string)
}

// DeadLetter is a message that will not be delivered again.
type DeadLetter struct {
	Queue   string
	Message *message.Message
	Err     error
	At      time.Time
}

// ChannelBrokerConfig configures the in-process channel broker.
type ChannelBrokerConfig struct {
	// BufferSize is the capacity of every queue.
	// Default: 100.
	BufferSize int

	// SendTimeout is the maximum duration to wait for queue capacity.
	// Zero means no timeout (blocks until enqueued or context canceled).
	SendTimeout time.Duration

	// MaxDeliveries limits delivery attempts per message, including the first.
	// Default: 5. Negative values redeliver forever.
	MaxDeliveries int

	// RedeliveryDelay is the base wait before a nacked message is redelivered.
	// Default: 1 second.
	RedeliveryDelay time.Duration

	// Backoff overrides the redelivery wait.
	// Default: ConstantBackoff(RedeliveryDelay, 0.2).
	Backoff BackoffFunc

	// DeadLetterHandler is called for every dead-lettered message.
	DeadLetterHandler func(DeadLetter)

	// Observer receives redelivery and dead-letter notifications.
	Observer Observer

	// Logger is used for broker logs. Default: disabled.
	Logger *zerolog.Logger
}

func (c ChannelBrokerConfig) defaults() ChannelBrokerConfig {
	cfg := c
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.MaxDeliveries == 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ConstantBackoff(cfg.RedeliveryDelay, 0.2)
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	return cfg
}
