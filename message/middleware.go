package message

import "context"

// ProcessFunc handles a single message.
type ProcessFunc func(ctx context.Context, msg *Message) error

// Middleware wraps a ProcessFunc with additional behavior.
type Middleware func(next ProcessFunc) ProcessFunc

// Chain applies middleware to fn. The first middleware is the outermost.
func Chain(fn ProcessFunc, mw ...Middleware) ProcessFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		fn = mw[i](fn)
	}
	return fn
}
