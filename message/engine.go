package message

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Engine wires endpoints to a transport. Each endpoint gets its own
// Router fed by the transport subscription for the endpoint queue.
type Engine struct {
	transport Transport
	cfg       EngineConfig
	logger    *zerolog.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	started   bool
}

type endpoint struct {
	cfg    EndpointConfig
	router *Router
}

// NewEngine creates an engine on top of t.
func NewEngine(t Transport, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{
		transport: t,
		cfg:       cfg,
		logger:    logger,
	}
}

// AddEndpoint registers an endpoint consuming the named queue with the
// given handlers. Must be called before Start.
func (e *Engine) AddEndpoint(cfg EndpointConfig, handlers ...Handler) error {
	if cfg.Name == "" {
		return errors.New("message: endpoint name is required")
	}
	if len(handlers) == 0 {
		return fmt.Errorf("message: endpoint %s has no handlers", cfg.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	for _, ep := range e.endpoints {
		if ep.cfg.Name == cfg.Name {
			return fmt.Errorf("message: duplicate endpoint %s", cfg.Name)
		}
	}

	mw := make([]Middleware, 0, len(e.cfg.Middleware)+len(cfg.Middleware))
	mw = append(mw, e.cfg.Middleware...)
	mw = append(mw, cfg.Middleware...)

	r := NewRouter(RouterConfig{
		Name:            cfg.Name,
		Concurrency:     cfg.Concurrency,
		Timeout:         cfg.Timeout,
		ShutdownTimeout: e.cfg.ShutdownTimeout,
		Marshaler:       e.cfg.Marshaler,
		Middleware:      mw,
		ErrorHandler:    e.cfg.ErrorHandler,
		Logger:          e.logger,
	})
	for _, h := range handlers {
		if err := r.AddHandler(h); err != nil {
			return err
		}
	}
	e.endpoints = append(e.endpoints, &endpoint{cfg: cfg, router: r})
	return nil
}

// Start subscribes every endpoint and starts its router.
// The returned channel closes after all routers have stopped.
func (e *Engine) Start(ctx context.Context) (<-chan struct{}, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	e.started = true
	endpoints := append([]*endpoint(nil), e.endpoints...)
	e.mu.Unlock()

	// Subscribe everything before consuming so that bindings exist
	// before the first handler publishes.
	subCtx, cancel := context.WithCancel(ctx)
	inputs := make([]<-chan *Message, len(endpoints))
	for i, ep := range endpoints {
		in, err := e.transport.Subscribe(subCtx, Endpoint{
			Name:     ep.cfg.Name,
			Types:    ep.router.Types(),
			Prefetch: ep.router.cfg.Concurrency,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", ep.cfg.Name, err)
		}
		inputs[i] = in
	}

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		done, err := ep.router.Start(subCtx, inputs[i])
		if err != nil {
			cancel()
			return nil, err
		}
		e.logger.Info().
			Str("endpoint", ep.cfg.Name).
			Strs("types", ep.router.Types()).
			Int("concurrency", ep.router.cfg.Concurrency).
			Msg("Endpoint started")
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		cancel()
		e.logger.Info().Msg("Engine stopped")
		close(done)
	}()
	return done, nil
}

// Endpoints returns the registered endpoint names in registration order.
func (e *Engine) Endpoints() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.endpoints))
	for i, ep := range e.endpoints {
		names[i] = ep.cfg.Name
	}
	return names
}
