package middleware

import (
	"context"
	"time"

	"github.com/fxsml/privatesocial/message"
)

// HandleObserver records handler outcomes. Implemented by metrics.Metrics.
type HandleObserver interface {
	ObserveHandled(endpoint, msgType string, d time.Duration, err error)
}

// Metrics reports the outcome and duration of every handler run.
func Metrics(obs HandleObserver, endpoint string) message.Middleware {
	return func(next message.ProcessFunc) message.ProcessFunc {
		return func(ctx context.Context, msg *message.Message) error {
			start := time.Now()
			err := next(ctx, msg)
			typ, _ := msg.Attributes.Type()
			obs.ObserveHandled(endpoint, typ, time.Since(start), err)
			return err
		}
	}
}
