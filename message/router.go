package message

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Router dispatches messages to handlers by type.
// A router serves one endpoint; its workers compete for the messages
// arriving on the input channel.
type Router struct {
	cfg RouterConfig

	mu       sync.Mutex
	handlers map[string]Handler
	started  bool

	inFlight atomic.Int64
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		cfg:      cfg.defaults(),
		handlers: make(map[string]Handler),
	}
}

// AddHandler registers h for its event type.
// Must be called before Start.
func (r *Router) AddHandler(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	t := h.EventType()
	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateHandler, t, r.cfg.Name)
	}
	r.handlers[t] = h
	return nil
}

// Types returns the registered event types, sorted.
func (r *Router) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// InFlight returns the number of messages currently being processed.
func (r *Router) InFlight() int {
	return int(r.inFlight.Load())
}

// Start runs the worker pool until ctx is canceled or in is closed.
// The returned channel closes once every worker has returned.
//
// In-flight messages keep their context for up to ShutdownTimeout after
// ctx is canceled.
func (r *Router) Start(ctx context.Context, in <-chan *Message) (<-chan struct{}, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	r.started = true
	chains := make(map[string]ProcessFunc, len(r.handlers))
	for t, h := range r.handlers {
		chains[t] = Chain(h.Handle, r.cfg.Middleware...)
	}
	r.mu.Unlock()

	workCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	workersDone := make(chan struct{})

	var wg sync.WaitGroup
	for range r.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-in:
					if !ok {
						return
					}
					r.inFlight.Add(1)
					r.process(workCtx, chains, msg)
					r.inFlight.Add(-1)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(workersDone)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer hardStop()
		select {
		case <-workersDone:
			return
		case <-ctx.Done():
		}
		if n := r.InFlight(); n > 0 {
			r.cfg.Logger.Info().
				Str("endpoint", r.cfg.Name).
				Int("in_flight", n).
				Msg("Waiting for in-flight messages")
		}
		var grace <-chan time.Time
		if r.cfg.ShutdownTimeout > 0 {
			timer := time.NewTimer(r.cfg.ShutdownTimeout)
			defer timer.Stop()
			grace = timer.C
		} else {
			hardStop()
		}
		select {
		case <-workersDone:
		case <-grace:
			hardStop()
			<-workersDone
		}
	}()

	return done, nil
}

func (r *Router) process(ctx context.Context, chains map[string]ProcessFunc, msg *Message) {
	var cancel context.CancelFunc
	if r.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	ctx = ContextWithAttributes(ctx, msg.Attributes)

	if err := r.handle(ctx, chains, msg); err != nil {
		msg.Nack(err)
		r.cfg.ErrorHandler(msg, err)
		return
	}
	msg.Ack()
}

func (r *Router) handle(ctx context.Context, chains map[string]ProcessFunc, msg *Message) error {
	t, _ := msg.Attributes.Type()
	fn, ok := chains[t]
	if !ok {
		return fmt.Errorf("%w: %q on %s", ErrNoHandler, t, r.cfg.Name)
	}
	if err := r.decode(t, msg); err != nil {
		return err
	}
	return fn(ctx, msg)
}

// decode replaces encoded data with the handler's input type.
func (r *Router) decode(t string, msg *Message) error {
	var raw []byte
	switch d := msg.Data.(type) {
	case []byte:
		raw = d
	case json.RawMessage:
		raw = d
	default:
		return nil
	}
	r.mu.Lock()
	h := r.handlers[t]
	r.mu.Unlock()
	v := h.NewInput()
	if err := r.cfg.Marshaler.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidData, t, err)
	}
	msg.Data = v
	return nil
}
