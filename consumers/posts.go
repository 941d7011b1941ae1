package consumers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fxsml/privatesocial/contracts"
	"github.com/fxsml/privatesocial/dedup"
	"github.com/fxsml/privatesocial/message"
)

// PostCreatedConsumer turns every new post into a moderation command.
type PostCreatedConsumer struct {
	bus message.Bus
}

// NewPostCreatedConsumer creates the consumer.
func NewPostCreatedConsumer(bus message.Bus) *PostCreatedConsumer {
	return &PostCreatedConsumer{bus: bus}
}

// Consume sends exactly one ModeratePostContent to the moderation queue.
func (c *PostCreatedConsumer) Consume(ctx context.Context, ev contracts.PostCreated) error {
	zerolog.Ctx(ctx).Info().
		Int("post_id", ev.PostID).
		Int("user_id", ev.UserID).
		Str("correlation_id", ev.CorrelationID.String()).
		Msg("Post created, requesting moderation")

	cmd := contracts.ModeratePostContent{
		CorrelationID: ev.CorrelationID,
		PostID:        ev.PostID,
		UserID:        ev.UserID,
		Content:       ev.Content,
	}
	if err := c.bus.Send(ctx, contracts.QueueModeratePostContent, cmd); err != nil {
		return fmt.Errorf("request moderation of post %d: %w", ev.PostID, err)
	}
	zerolog.Ctx(ctx).Info().
		Int("post_id", ev.PostID).
		Str("correlation_id", ev.CorrelationID.String()).
		Msg("Moderation requested")
	return nil
}

// Handler returns the message handler for PostCreated.
func (c *PostCreatedConsumer) Handler() message.Handler {
	return message.NewHandler(c.Consume, message.KebabNaming)
}

// ModeratePostContentConsumer runs the moderator on post content, at most
// once per correlation id while the guard remembers it. The verdict is
// terminal: nothing is emitted.
type ModeratePostContentConsumer struct {
	moderator Moderator
	guard     dedup.Guard
}

// NewModeratePostContentConsumer creates the consumer.
func NewModeratePostContentConsumer(m Moderator, guard dedup.Guard) *ModeratePostContentConsumer {
	return &ModeratePostContentConsumer{moderator: m, guard: guard}
}

// Consume moderates the post and logs the verdict.
func (c *ModeratePostContentConsumer) Consume(ctx context.Context, cmd contracts.ModeratePostContent) error {
	logger := zerolog.Ctx(ctx).With().
		Int("post_id", cmd.PostID).
		Str("correlation_id", cmd.CorrelationID.String()).
		Logger()

	logger.Info().Msg("Moderating post content")
	var verdict Verdict
	ran, err := c.guard.Do(ctx, sideEffectKey("moderation", cmd.CorrelationID), func(ctx context.Context) error {
		var err error
		verdict, err = c.moderator.Moderate(ctx, cmd)
		return err
	})
	if err != nil {
		return fmt.Errorf("moderate post %d: %w", cmd.PostID, err)
	}
	if !ran {
		logger.Info().Msg("Post content already moderated")
		return nil
	}
	if !verdict.Approved {
		logger.Warn().Str("reason", verdict.Reason).Msg("Post content rejected")
		return nil
	}
	logger.Info().Msg("Post content approved")
	return nil
}

// Handler returns the message handler for ModeratePostContent.
func (c *ModeratePostContentConsumer) Handler() message.Handler {
	return message.NewHandler(c.Consume, message.KebabNaming)
}

// PostActivityLogConsumer records post edits and removals.
type PostActivityLogConsumer struct{}

// ConsumeUpdated logs a PostUpdated event.
func (PostActivityLogConsumer) ConsumeUpdated(ctx context.Context, ev contracts.PostUpdated) error {
	zerolog.Ctx(ctx).Info().
		Int("post_id", ev.PostID).
		Int("user_id", ev.UserID).
		Time("updated_at", ev.UpdatedAt).
		Str("correlation_id", ev.CorrelationID.String()).
		Msg("Post updated")
	return nil
}

// ConsumeDeleted logs a PostDeleted event.
func (PostActivityLogConsumer) ConsumeDeleted(ctx context.Context, ev contracts.PostDeleted) error {
	zerolog.Ctx(ctx).Info().
		Int("post_id", ev.PostID).
		Int("user_id", ev.UserID).
		Time("deleted_at", ev.DeletedAt).
		Str("correlation_id", ev.CorrelationID.String()).
		Msg("Post deleted")
	return nil
}

// Handlers returns the handlers for PostUpdated and PostDeleted.
func (c PostActivityLogConsumer) Handlers() []message.Handler {
	return []message.Handler{
		message.NewHandler(c.ConsumeUpdated, message.KebabNaming),
		message.NewHandler(c.ConsumeDeleted, message.KebabNaming),
	}
}
