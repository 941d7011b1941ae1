package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxsml/privatesocial/dedup"
	"github.com/fxsml/privatesocial/message"
)

// DuplicateObserver is notified about skipped duplicates. Implemented by metrics.Metrics.
type DuplicateObserver interface {
	DuplicateSkipped(endpoint string)
}

// IdempotentConfig configures the Idempotent middleware.
type IdempotentConfig struct {
	// Store holds the claimed keys. Required.
	Store dedup.Store
	// TTL is how long a processed key is remembered. Default: dedup.DefaultTTL.
	TTL time.Duration
	// Endpoint labels observer calls and prefixes keys.
	Endpoint string
	// Observer is optional.
	Observer DuplicateObserver
}

// IdempotencyKey returns "<type>:<id>", or "" if either attribute is missing.
// Redeliveries of one message share the key. A resent command gets a new id
// and is processed again; consumers guard their side effects per workflow.
func IdempotencyKey(msg *message.Message) string {
	typ, ok := msg.Attributes.Type()
	if !ok {
		return ""
	}
	id, ok := msg.Attributes.ID()
	if !ok {
		return ""
	}
	return typ + ":" + id
}

// Idempotent skips redeliveries of messages that were already processed.
// The key is claimed before the handler runs and released when it fails or
// panics, so the next redelivery is processed again. Messages without a key
// pass through.
func Idempotent(cfg IdempotentConfig) message.Middleware {
	guard := dedup.Guard{Store: cfg.Store, TTL: cfg.TTL}
	return func(next message.ProcessFunc) message.ProcessFunc {
		return func(ctx context.Context, msg *message.Message) error {
			key := IdempotencyKey(msg)
			if key == "" {
				return next(ctx, msg)
			}
			if cfg.Endpoint != "" {
				key = cfg.Endpoint + ":" + key
			}

			ran, err := guard.Do(ctx, key, func(ctx context.Context) error {
				return next(ctx, msg)
			})
			if !ran && err == nil {
				zerolog.Ctx(ctx).Info().Str("key", key).Msg("Duplicate message skipped")
				if cfg.Observer != nil {
					cfg.Observer.DuplicateSkipped(cfg.Endpoint)
				}
			}
			return err
		}
	}
}
