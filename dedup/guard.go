package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long a finished key is remembered when no TTL is set.
const DefaultTTL = 24 * time.Hour

// Guard runs an action at most once per key. The key is released when the
// action fails or panics, so a retry runs it again. A Guard without Store
// always runs the action.
type Guard struct {
	Store Store
	TTL   time.Duration
}

// Do claims key and runs fn. ran is false when key was already claimed and
// fn was skipped.
func (g Guard) Do(ctx context.Context, key string, fn func(context.Context) error) (ran bool, err error) {
	if g.Store == nil {
		return true, fn(ctx)
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	claimed, err := g.Store.Claim(ctx, key, ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		return false, nil
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rerr := g.Store.Release(context.WithoutCancel(ctx), key); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release %s: %w", key, rerr))
		}
	}()

	if err := fn(ctx); err != nil {
		return true, err
	}
	done = true
	return true, nil
}
