package message

import (
	"context"
	"fmt"
	"reflect"
)

// Handler processes messages of a specific CE type.
type Handler interface {
	// EventType returns the CE type this handler processes.
	EventType() string

	// NewInput creates a new instance for unmarshaling input data.
	NewInput() any

	// Handle processes a message. A non-nil error nacks the message.
	Handle(ctx context.Context, msg *Message) error
}

// handler wraps a typed handler function.
type handler[T any] struct {
	eventType string
	fn        func(ctx context.Context, v T) error
}

// NewHandler creates a handler from a typed function.
// The generic type T is used for unmarshaling and event type derivation.
// NamingStrategy derives EventType from T.
func NewHandler[T any](fn func(ctx context.Context, v T) error, naming NamingStrategy) Handler {
	return &handler[T]{
		eventType: naming.TypeName(reflect.TypeFor[T]()),
		fn:        fn,
	}
}

func (h *handler[T]) EventType() string {
	return h.eventType
}

func (h *handler[T]) NewInput() any {
	return new(T)
}

func (h *handler[T]) Handle(ctx context.Context, msg *Message) error {
	var v T
	switch d := msg.Data.(type) {
	case T:
		v = d
	case *T:
		if d == nil {
			return fmt.Errorf("%w: nil %s", ErrInvalidData, h.eventType)
		}
		v = *d
	default:
		return fmt.Errorf("%w: %s got %T", ErrInvalidData, h.eventType, msg.Data)
	}
	return h.fn(ctx, v)
}

var _ Handler = (*handler[any])(nil)
