package consumers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxsml/privatesocial/contracts"
	"github.com/fxsml/privatesocial/dedup"
	"github.com/fxsml/privatesocial/message"
)

// sideEffectKey identifies the side effect of one workflow step.
func sideEffectKey(step string, correlationID fmt.Stringer) string {
	return step + ":" + correlationID.String()
}

// SendWelcomeEmailConsumer mails new users and reports back to the saga.
//
// The email goes out at most once per correlation id while the guard
// remembers it. WelcomeEmailSent is published on every delivery, so a
// command resent by the saga still gets its reply.
type SendWelcomeEmailConsumer struct {
	bus    message.Bus
	mailer Mailer
	guard  dedup.Guard
	now    func() time.Time
}

// NewSendWelcomeEmailConsumer creates the consumer.
func NewSendWelcomeEmailConsumer(bus message.Bus, mailer Mailer, guard dedup.Guard) *SendWelcomeEmailConsumer {
	return &SendWelcomeEmailConsumer{bus: bus, mailer: mailer, guard: guard, now: time.Now}
}

// Consume sends the email and publishes WelcomeEmailSent.
func (c *SendWelcomeEmailConsumer) Consume(ctx context.Context, cmd contracts.SendWelcomeEmail) error {
	logger := zerolog.Ctx(ctx).With().
		Int("user_id", cmd.UserID).
		Str("correlation_id", cmd.CorrelationID.String()).
		Logger()

	logger.Info().Str("username", cmd.Username).Str("email", cmd.Email).Msg("Sending welcome email")
	sent, err := c.guard.Do(ctx, sideEffectKey("welcome-email", cmd.CorrelationID), func(ctx context.Context) error {
		return c.mailer.SendWelcomeEmail(ctx, cmd)
	})
	if err != nil {
		return fmt.Errorf("send welcome email to user %d: %w", cmd.UserID, err)
	}
	if sent {
		logger.Info().Str("email", cmd.Email).Msg("Welcome email sent")
	} else {
		logger.Info().Str("email", cmd.Email).Msg("Welcome email already sent, replying again")
	}

	return c.bus.Publish(ctx, contracts.WelcomeEmailSent{
		CorrelationID: cmd.CorrelationID,
		UserID:        cmd.UserID,
		SentAt:        c.now().UTC(),
	})
}

// Handler returns the message handler for SendWelcomeEmail.
func (c *SendWelcomeEmailConsumer) Handler() message.Handler {
	return message.NewHandler(c.Consume, message.KebabNaming)
}

// CreateDefaultProfileConsumer sets up the profile of new users.
// Like SendWelcomeEmailConsumer it guards the side effect and always replies.
type CreateDefaultProfileConsumer struct {
	bus      message.Bus
	profiles ProfileService
	guard    dedup.Guard
	now      func() time.Time
}

// NewCreateDefaultProfileConsumer creates the consumer.
func NewCreateDefaultProfileConsumer(bus message.Bus, profiles ProfileService, guard dedup.Guard) *CreateDefaultProfileConsumer {
	return &CreateDefaultProfileConsumer{bus: bus, profiles: profiles, guard: guard, now: time.Now}
}

// Consume creates the profile and publishes DefaultProfileCreated.
func (c *CreateDefaultProfileConsumer) Consume(ctx context.Context, cmd contracts.CreateDefaultProfile) error {
	logger := zerolog.Ctx(ctx).With().
		Int("user_id", cmd.UserID).
		Str("correlation_id", cmd.CorrelationID.String()).
		Logger()

	logger.Info().Str("username", cmd.Username).Msg("Creating default profile")
	created, err := c.guard.Do(ctx, sideEffectKey("default-profile", cmd.CorrelationID), func(ctx context.Context) error {
		return c.profiles.CreateDefaultProfile(ctx, cmd)
	})
	if err != nil {
		return fmt.Errorf("create default profile for user %d: %w", cmd.UserID, err)
	}
	if created {
		logger.Info().Msg("Default profile created")
	} else {
		logger.Info().Msg("Default profile already exists, replying again")
	}

	return c.bus.Publish(ctx, contracts.DefaultProfileCreated{
		CorrelationID: cmd.CorrelationID,
		UserID:        cmd.UserID,
		CreatedAt:     c.now().UTC(),
	})
}

// Handler returns the message handler for CreateDefaultProfile.
func (c *CreateDefaultProfileConsumer) Handler() message.Handler {
	return message.NewHandler(c.Consume, message.KebabNaming)
}

// UserRegisteredLogConsumer records registrations for auditing.
type UserRegisteredLogConsumer struct{}

// Consume logs a UserRegistered event.
func (UserRegisteredLogConsumer) Consume(ctx context.Context, ev contracts.UserRegistered) error {
	zerolog.Ctx(ctx).Info().
		Int("user_id", ev.UserID).
		Str("username", ev.Username).
		Time("registered_at", ev.RegisteredAt).
		Str("correlation_id", ev.CorrelationID.String()).
		Msg("User registered")
	return nil
}

// Handler returns the message handler for UserRegistered.
func (c UserRegisteredLogConsumer) Handler() message.Handler {
	return message.NewHandler(c.Consume, message.KebabNaming)
}
