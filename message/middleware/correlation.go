package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/fxsml/privatesocial/message"
)

// CorrelationID sets the correlationid attribute from the payload when the
// transport did not carry it. Outgoing messages inherit it via the context.
func CorrelationID() message.Middleware {
	return func(next message.ProcessFunc) message.ProcessFunc {
		return func(ctx context.Context, msg *message.Message) error {
			if _, ok := msg.Attributes.CorrelationID(); !ok {
				if c, ok := msg.Data.(interface{ Correlation() uuid.UUID }); ok && c.Correlation() != uuid.Nil {
					if msg.Attributes == nil {
						msg.Attributes = make(message.Attributes)
					}
					msg.Attributes[message.AttrCorrelationID] = c.Correlation().String()
				}
			}
			return next(ctx, msg)
		}
	}
}
