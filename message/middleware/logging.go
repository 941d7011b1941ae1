package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxsml/privatesocial/message"
)

// Logging attaches a per-message child logger to the context. Handlers log
// through zerolog.Ctx(ctx) and get endpoint, type, id and correlation id
// on every line.
func Logging(logger zerolog.Logger, endpoint string) message.Middleware {
	return func(next message.ProcessFunc) message.ProcessFunc {
		return func(ctx context.Context, msg *message.Message) error {
			lc := logger.With().Str("endpoint", endpoint)
			if v, ok := msg.Attributes.Type(); ok {
				lc = lc.Str("type", v)
			}
			if v, ok := msg.Attributes.ID(); ok {
				lc = lc.Str("message_id", v)
			}
			if v, ok := msg.Attributes.CorrelationID(); ok {
				lc = lc.Str("correlation_id", v)
			}
			if n := msg.Attributes.DeliveryCount(); n > 1 {
				lc = lc.Int("delivery", n)
			}
			l := lc.Logger()
			ctx = l.WithContext(ctx)

			start := time.Now()
			err := next(ctx, msg)
			event := l.Debug()
			if err != nil {
				event = l.Warn().Err(err)
			}
			event.Dur("duration", time.Since(start)).Msg("Message handled")
			return err
		}
	}
}
