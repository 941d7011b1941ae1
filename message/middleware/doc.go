// Package middleware provides message.Middleware implementations for the
// endpoint routers.
//
// Suggested order, outermost first:
//
//	CorrelationID, Logging, Metrics, Recover, Deadline, Idempotent
//
// so that logs and metrics see the correlation id and recovered panics.
package middleware
