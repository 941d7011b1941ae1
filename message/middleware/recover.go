package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/fxsml/privatesocial/message"
)

// PanicError replaces a handler panic. It is not permanent, so the
// message is redelivered.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Recover turns handler panics into a PanicError and logs the stack with
// the message logger.
func Recover() message.Middleware {
	return func(next message.ProcessFunc) message.ProcessFunc {
		return func(ctx context.Context, msg *message.Message) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				pe := &PanicError{Value: r, Stack: debug.Stack()}
				zerolog.Ctx(ctx).Error().
					Interface("panic", r).
					Str("stack", string(pe.Stack)).
					Msg("Handler panicked")
				err = pe
			}()
			return next(ctx, msg)
		}
	}
}
