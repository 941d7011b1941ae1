package message

import (
	"time"

	"github.com/rs/zerolog"
)

// ErrorHandler is called for every message whose processing failed,
// after the message was nacked.
type ErrorHandler func(msg *Message, err error)

// RouterConfig configures a Router.
type RouterConfig struct {
	// Name identifies the endpoint in logs.
	Name string

	// Concurrency is the number of competing workers. Default: 1.
	Concurrency int

	// Timeout bounds the processing of a single message. Zero means no limit.
	Timeout time.Duration

	// ShutdownTimeout is the grace period in-flight messages get after the
	// router context is canceled. Zero cancels them immediately.
	ShutdownTimeout time.Duration

	// Marshaler decodes []byte data into handler input. Default: JSON.
	Marshaler Marshaler

	// Middleware wraps every handler. The first entry is the outermost.
	Middleware []Middleware

	// ErrorHandler is called after a failed message was nacked.
	// Default logs at error level.
	ErrorHandler ErrorHandler

	// Logger is used for router logs. Default: disabled.
	Logger *zerolog.Logger
}

func (c RouterConfig) defaults() RouterConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Marshaler == nil {
		c.Marshaler = NewJSONMarshaler()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.ErrorHandler == nil {
		logger := c.Logger
		name := c.Name
		c.ErrorHandler = func(msg *Message, err error) {
			typ, _ := msg.Attributes.Type()
			id, _ := msg.Attributes.ID()
			logger.Error().Err(err).
				Str("endpoint", name).
				Str("type", typ).
				Str("id", id).
				Int("delivery", msg.Attributes.DeliveryCount()).
				Msg("Message processing failed")
		}
	}
	return c
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Marshaler decodes []byte data into handler input. Default: JSON.
	Marshaler Marshaler

	// Middleware wraps every handler of every endpoint, outside the
	// endpoint-specific middleware.
	Middleware []Middleware

	// ShutdownTimeout is the grace period for in-flight messages.
	ShutdownTimeout time.Duration

	// ErrorHandler is passed to every router.
	ErrorHandler ErrorHandler

	// Logger is used for engine and router logs. Default: disabled.
	Logger *zerolog.Logger
}

// EndpointConfig configures one endpoint of an Engine.
type EndpointConfig struct {
	// Name is the queue the endpoint consumes from. Required.
	Name string

	// Concurrency is the number of competing workers. Default: 1.
	Concurrency int

	// Timeout bounds the processing of a single message.
	Timeout time.Duration

	// Middleware wraps the handlers of this endpoint only.
	Middleware []Middleware
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Source is the CloudEvents source of outgoing messages.
	// Default: "/privatesocial/worker".
	Source string

	// Naming derives the type attribute from the payload type. Default: KebabNaming.
	Naming NamingStrategy

	// IDGenerator generates message ids. Default: DefaultIDGenerator.
	IDGenerator IDGenerator

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// DefaultSource is the CloudEvents source used when none is configured.
const DefaultSource = "/privatesocial/worker"

func (c DispatcherConfig) defaults() DispatcherConfig {
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.Naming == nil {
		c.Naming = KebabNaming
	}
	if c.IDGenerator == nil {
		c.IDGenerator = DefaultIDGenerator
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
