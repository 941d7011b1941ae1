// Package consumers holds the stateless message consumers of the worker.
//
// Every consumer handles one message type, may call a side-effect service,
// may emit follow-up messages through a message.Bus and logs through the
// logger attached to the context. Consumers keep no state between messages
// and may run as competing instances.
package consumers

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/fxsml/privatesocial/contracts"
)

// Default latencies of the simulated services.
const (
	DefaultMailerLatency    = 500 * time.Millisecond
	DefaultProfileLatency   = 300 * time.Millisecond
	DefaultModeratorLatency = 200 * time.Millisecond
)

// Mailer delivers emails.
type Mailer interface {
	SendWelcomeEmail(ctx context.Context, cmd contracts.SendWelcomeEmail) error
}

// ProfileService creates user profiles.
type ProfileService interface {
	CreateDefaultProfile(ctx context.Context, cmd contracts.CreateDefaultProfile) error
}

// Verdict is the outcome of a moderation.
type Verdict struct {
	Approved bool
	Reason   string
}

// Moderator reviews post content.
type Moderator interface {
	Moderate(ctx context.Context, cmd contracts.ModeratePostContent) (Verdict, error)
}

// simulate waits d or until ctx is done.
func simulate(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimitObserver is notified when the mailer has to wait for a token.
// Implemented by metrics.Metrics.
type RateLimitObserver interface {
	RateLimitWait()
}

// SimulatedMailerConfig configures a SimulatedMailer.
type SimulatedMailerConfig struct {
	// Latency of one send. Default: DefaultMailerLatency.
	Latency time.Duration
	// Rate is the number of emails per second. Zero means unlimited.
	Rate float64
	// Burst is the token bucket size. Default: 1.
	Burst int
	// Observer is optional.
	Observer RateLimitObserver
}

// SimulatedMailer pretends to send emails, throttled by a token bucket.
type SimulatedMailer struct {
	latency  time.Duration
	limiter  *rate.Limiter
	observer RateLimitObserver
}

var _ Mailer = (*SimulatedMailer)(nil)

// NewSimulatedMailer creates a simulated mailer.
func NewSimulatedMailer(cfg SimulatedMailerConfig) *SimulatedMailer {
	if cfg.Latency == 0 {
		cfg.Latency = DefaultMailerLatency
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &SimulatedMailer{
		latency:  cfg.Latency,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		observer: cfg.Observer,
	}
}

// SendWelcomeEmail implements Mailer.
func (m *SimulatedMailer) SendWelcomeEmail(ctx context.Context, _ contracts.SendWelcomeEmail) error {
	if !m.limiter.Allow() {
		if m.observer != nil {
			m.observer.RateLimitWait()
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	return simulate(ctx, m.latency)
}

// SimulatedProfileService pretends to create profiles.
type SimulatedProfileService struct {
	Latency time.Duration
}

var _ ProfileService = SimulatedProfileService{}

// CreateDefaultProfile implements ProfileService.
func (s SimulatedProfileService) CreateDefaultProfile(ctx context.Context, _ contracts.CreateDefaultProfile) error {
	return simulate(ctx, s.Latency)
}

// SimulatedModerator approves every post after its latency.
type SimulatedModerator struct {
	Latency time.Duration
}

var _ Moderator = SimulatedModerator{}

// Moderate implements Moderator.
func (m SimulatedModerator) Moderate(ctx context.Context, _ contracts.ModeratePostContent) (Verdict, error) {
	if err := simulate(ctx, m.Latency); err != nil {
		return Verdict{}, err
	}
	return Verdict{Approved: true}, nil
}
