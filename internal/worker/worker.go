// Package worker assembles the onboarding worker from its parts: the saga
// orchestrator, the stateless consumers and the message engine that routes
// transport deliveries to them.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fxsml/privatesocial/config"
	"github.com/fxsml/privatesocial/consumers"
	"github.com/fxsml/privatesocial/dedup"
	"github.com/fxsml/privatesocial/message"
	"github.com/fxsml/privatesocial/message/middleware"
	"github.com/fxsml/privatesocial/metrics"
	"github.com/fxsml/privatesocial/saga"
)

// Endpoint names.
const (
	EndpointOnboardingSaga       = "user-onboarding-state"
	EndpointPostCreated          = "post-created"
	EndpointModeratePostContent  = "moderate-post-content"
	EndpointSendWelcomeEmail     = "send-welcome-email"
	EndpointCreateDefaultProfile = "create-default-profile"
	EndpointUserRegisteredLog    = "user-registered-log"
	EndpointPostActivityLog      = "post-activity-log"
)

// Deps are the infrastructure pieces chosen by the caller.
type Deps struct {
	// Transport moves messages. Required.
	Transport message.Transport
	// Dedup backs the idempotency of side-effect endpoints. Nil disables it.
	Dedup dedup.Store
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Worker runs every endpoint of the onboarding worker.
type Worker struct {
	cfg          *config.Config
	deps         Deps
	dispatcher   *message.Dispatcher
	sagas        *saga.Store
	orchestrator *saga.Orchestrator
	engine       *message.Engine
	ready        chan struct{}
}

// New wires the worker. Nothing is consumed until Run.
func New(cfg *config.Config, deps Deps) (*Worker, error) {
	if deps.Transport == nil {
		return nil, errors.New("worker: transport is required")
	}
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}

	dispatcher := message.NewDispatcher(deps.Transport, message.DispatcherConfig{
		Source: cfg.Service.Source,
	})
	sagas := saga.NewStore(saga.StoreConfig{
		TombstoneRetention: cfg.Saga.TombstoneRetention,
	})
	w := &Worker{
		cfg:        cfg,
		deps:       deps,
		dispatcher: dispatcher,
		sagas:      sagas,
		ready:      make(chan struct{}),
	}
	w.orchestrator = saga.NewOrchestrator(w.sagas, w.dispatcher, saga.Config{
		Timeout:       cfg.Saga.Timeout,
		SweepInterval: cfg.Saga.SweepInterval,
		Observer:      deps.Metrics,
		Logger:        deps.Logger,
	})
	w.engine = message.NewEngine(deps.Transport, message.EngineConfig{
		Middleware:      []message.Middleware{middleware.CorrelationID()},
		ShutdownTimeout: cfg.Endpoint.ShutdownTimeout,
		Logger:          deps.Logger,
	})

	if err := w.addEndpoints(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Worker) addEndpoints() error {
	c := w.cfg.Consumers
	mailer := consumers.NewSimulatedMailer(consumers.SimulatedMailerConfig{
		Latency:  c.MailerLatency,
		Rate:     c.EmailRate,
		Burst:    c.EmailBurst,
		Observer: w.deps.Metrics,
	})
	profiles := consumers.SimulatedProfileService{Latency: c.ProfileLatency}
	moderator := consumers.SimulatedModerator{Latency: c.ModeratorLatency}
	guard := dedup.Guard{Store: w.deps.Dedup, TTL: w.cfg.Dedup.TTL}

	endpoints := []struct {
		name       string
		idempotent bool
		handlers   []message.Handler
	}{
		{EndpointOnboardingSaga, false, w.orchestrator.Handlers()},
		{EndpointPostCreated, true, []message.Handler{consumers.NewPostCreatedConsumer(w.dispatcher).Handler()}},
		{EndpointModeratePostContent, true, []message.Handler{consumers.NewModeratePostContentConsumer(moderator, guard).Handler()}},
		{EndpointSendWelcomeEmail, true, []message.Handler{consumers.NewSendWelcomeEmailConsumer(w.dispatcher, mailer, guard).Handler()}},
		{EndpointCreateDefaultProfile, true, []message.Handler{consumers.NewCreateDefaultProfileConsumer(w.dispatcher, profiles, guard).Handler()}},
		{EndpointUserRegisteredLog, false, []message.Handler{consumers.UserRegisteredLogConsumer{}.Handler()}},
		{EndpointPostActivityLog, false, consumers.PostActivityLogConsumer{}.Handlers()},
	}
	for _, ep := range endpoints {
		err := w.engine.AddEndpoint(message.EndpointConfig{
			Name:        ep.name,
			Concurrency: w.cfg.Endpoint.Concurrency,
			Timeout:     w.cfg.Endpoint.Timeout,
			Middleware:  w.middleware(ep.name, ep.idempotent),
		}, ep.handlers...)
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}
	return nil
}

func (w *Worker) middleware(endpoint string, idempotent bool) []message.Middleware {
	mw := []message.Middleware{
		middleware.Logging(*w.deps.Logger, endpoint),
		middleware.Metrics(w.deps.Metrics, endpoint),
		middleware.Recover(),
		middleware.Deadline(),
	}
	if idempotent && w.deps.Dedup != nil {
		mw = append(mw, middleware.Idempotent(middleware.IdempotentConfig{
			Store:    w.deps.Dedup,
			TTL:      w.cfg.Dedup.TTL,
			Endpoint: endpoint,
			Observer: w.deps.Metrics,
		}))
	}
	return mw
}

// Bus returns the outbound side used by the worker's handlers.
func (w *Worker) Bus() message.Bus {
	return w.dispatcher
}

// Sagas returns the onboarding saga store.
func (w *Worker) Sagas() *saga.Store {
	return w.sagas
}

// Endpoints returns the endpoint names in registration order.
func (w *Worker) Endpoints() []string {
	return w.engine.Endpoints()
}

// Ready is closed once every endpoint is subscribed.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Run starts every endpoint and the saga expiry sweeper and blocks until
// ctx is canceled and in-flight messages are settled.
func (w *Worker) Run(ctx context.Context) error {
	done, err := w.engine.Start(ctx)
	if err != nil {
		return fmt.Errorf("worker: start engine: %w", err)
	}

	close(w.ready)

	sweeper := make(chan error, 1)
	go func() {
		sweeper <- w.orchestrator.Run(ctx)
	}()

	w.deps.Logger.Info().
		Str("service", w.cfg.Service.Name).
		Strs("endpoints", w.engine.Endpoints()).
		Msg("Worker started")

	<-done
	err = <-sweeper
	w.deps.Logger.Info().Msg("Worker stopped")
	return err
}
