package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxsml/privatesocial/message"
)

// ErrMessageExpired marks a message handled after its expirytime. It wraps
// message.ErrPermanent, so the message is dropped rather than redelivered.
var ErrMessageExpired = fmt.Errorf("message expired: %w", message.ErrPermanent)

// Deadline bounds handling by the expirytime attribute. A message already
// past it never reaches the handler.
func Deadline() message.Middleware {
	return func(next message.ProcessFunc) message.ProcessFunc {
		return func(ctx context.Context, msg *message.Message) error {
			expiry := msg.ExpiryTime()
			if expiry.IsZero() {
				return next(ctx, msg)
			}
			if !time.Now().Before(expiry) {
				return ErrMessageExpired
			}

			dctx, cancel := context.WithDeadline(ctx, expiry)
			defer cancel()

			err := next(dctx, msg)
			// Only the expirytime counts; an earlier parent deadline stays transient.
			if err != nil && ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrMessageExpired, err)
			}
			return err
		}
	}
}
