package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fxsml/privatesocial/contracts"
	"github.com/fxsml/privatesocial/message"
)

// Defaults of the expiry policy.
const (
	DefaultTimeout       = 15 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Observer receives saga lifecycle notifications. Implemented by metrics.Metrics.
type Observer interface {
	SagaStarted()
	SagaCompleted(d time.Duration)
	SagaExpired()
	SetActiveSagas(n int)
}

// Config configures an Orchestrator.
type Config struct {
	// Timeout is the deadline of an instance after UserRegistered.
	// Default: DefaultTimeout. Negative disables expiry.
	Timeout time.Duration

	// SweepInterval is how often Run looks for overdue instances.
	// Default: DefaultSweepInterval.
	SweepInterval time.Duration

	// Observer is optional.
	Observer Observer

	// Logger is used when the context carries none. Default: disabled.
	Logger *zerolog.Logger

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

func (c Config) defaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Orchestrator runs the onboarding saga against a Store and a Bus.
type Orchestrator struct {
	store *Store
	bus   message.Bus
	cfg   Config
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store *Store, bus message.Bus, cfg Config) *Orchestrator {
	return &Orchestrator{
		store: store,
		bus:   bus,
		cfg:   cfg.defaults(),
	}
}

// Handlers returns the message handlers of the saga endpoint.
func (o *Orchestrator) Handlers() []message.Handler {
	return []message.Handler{
		message.NewHandler(o.HandleUserRegistered, message.KebabNaming),
		message.NewHandler(o.HandleWelcomeEmailSent, message.KebabNaming),
		message.NewHandler(o.HandleDefaultProfileCreated, message.KebabNaming),
	}
}

// HandleUserRegistered starts a saga.
func (o *Orchestrator) HandleUserRegistered(ctx context.Context, evt contracts.UserRegistered) error {
	return o.handle(ctx, Event{
		Kind:          EventUserRegistered,
		CorrelationID: evt.CorrelationID,
		UserID:        evt.UserID,
		Username:      evt.Username,
		Email:         evt.Email,
	})
}

// HandleWelcomeEmailSent records the welcome email step.
func (o *Orchestrator) HandleWelcomeEmailSent(ctx context.Context, evt contracts.WelcomeEmailSent) error {
	return o.handle(ctx, Event{Kind: EventWelcomeEmailSent, CorrelationID: evt.CorrelationID})
}

// HandleDefaultProfileCreated records the default profile step.
func (o *Orchestrator) HandleDefaultProfileCreated(ctx context.Context, evt contracts.DefaultProfileCreated) error {
	return o.handle(ctx, Event{Kind: EventDefaultProfileCreated, CorrelationID: evt.CorrelationID})
}

// ExpireOverdue expires every instance whose deadline has passed and
// returns how many expired.
func (o *Orchestrator) ExpireOverdue(ctx context.Context) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, id := range o.store.Overdue(o.cfg.Now()) {
		res, err := o.apply(ctx, Event{Kind: EventDeadlineExpired, CorrelationID: id})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.State == StateExpired && res.Changed {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// Run sweeps for overdue instances and old tombstones until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.Timeout < 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := o.ExpireOverdue(ctx)
			if err != nil && ctx.Err() == nil {
				o.cfg.Logger.Error().Err(err).Msg("Saga expiry sweep failed")
			}
			purged := o.store.PurgeTombstones()
			if n > 0 || purged > 0 {
				o.cfg.Logger.Debug().Int("expired", n).Int("purged", purged).Msg("Saga sweep done")
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev Event) error {
	if ev.CorrelationID == uuid.Nil {
		return fmt.Errorf("%w: %s without correlation id", message.ErrInvalidData, ev.Kind)
	}
	_, err := o.apply(ctx, ev)
	return err
}

// apply runs one transition and dispatches its outbound messages inside
// the critical section of the correlation id. A failed dispatch discards
// the transition so that the redelivered input retries it.
func (o *Orchestrator) apply(ctx context.Context, ev Event) (Result, error) {
	logger := o.logger(ctx).With().
		Str("saga_id", ev.CorrelationID.String()).
		Stringer("event", ev.Kind).
		Logger()

	var before State
	timeout := max(o.cfg.Timeout, 0)
	res, err := o.store.Update(ctx, ev.CorrelationID, func(state State, inst *UserOnboardingState) (Result, error) {
		before = state
		res, err := Transition(state, ev, inst, o.cfg.Now().UTC(), timeout)
		if err != nil {
			return Result{}, err
		}
		for _, out := range res.Outbound {
			if err := o.dispatch(ctx, out); err != nil {
				return Result{}, err
			}
		}
		return res, nil
	})
	if err != nil {
		logger.Warn().Err(err).Stringer("state", before).Msg("Saga transition failed")
		return Result{}, err
	}

	if !res.Changed {
		logger.Debug().Stringer("state", before).Msg("Saga event ignored")
		return res, nil
	}

	o.observe(before, res)
	logger.Info().
		Stringer("from", before).
		Stringer("to", res.State).
		Bool("welcome_email_sent", res.Instance.WelcomeEmailSent).
		Bool("default_profile_created", res.Instance.DefaultProfileCreated).
		Msg("Saga transitioned")
	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, out Outbound) error {
	if out.Queue != "" {
		return o.bus.Send(ctx, out.Queue, out.Message)
	}
	return o.bus.Publish(ctx, out.Message)
}

func (o *Orchestrator) observe(before State, res Result) {
	obs := o.cfg.Observer
	if obs == nil {
		return
	}
	if before == StateNone && res.State == StateInProgress {
		obs.SagaStarted()
	}
	switch res.State {
	case StateCompleted:
		if res.Instance.CompletedAt != nil {
			obs.SagaCompleted(res.Instance.CompletedAt.Sub(res.Instance.StartedAt))
		}
	case StateExpired:
		obs.SagaExpired()
	}
	obs.SetActiveSagas(o.store.Active())
}

func (o *Orchestrator) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return o.cfg.Logger
}
