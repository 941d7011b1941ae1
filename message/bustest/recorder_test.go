package bustest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/privatesocial/contracts"
	"github.com/fxsml/privatesocial/message/bustest"
)

func TestRecorder(t *testing.T) {
	r := bustest.New()
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, contracts.WelcomeEmailSent{UserID: 1}))
	require.NoError(t, r.Publish(ctx, contracts.DefaultProfileCreated{UserID: 1}))
	require.NoError(t, r.Send(ctx, contracts.QueueModeratePostContent, contracts.ModeratePostContent{PostID: 10}))

	assert.Len(t, r.Published(), 2)
	assert.Equal(t, []contracts.WelcomeEmailSent{{UserID: 1}}, bustest.PublishedOf[contracts.WelcomeEmailSent](r))
	assert.Equal(t, []contracts.ModeratePostContent{{PostID: 10}},
		bustest.SentTo[contracts.ModeratePostContent](r, contracts.QueueModeratePostContent))
	assert.Empty(t, bustest.SentTo[contracts.ModeratePostContent](r, contracts.QueueSendWelcomeEmail))

	r.Reset()
	assert.Empty(t, r.Published())
	assert.Empty(t, r.Sent())
}

func TestRecorder_Hooks(t *testing.T) {
	boom := errors.New("boom")
	r := bustest.New()
	r.SendHook = func(_ context.Context, queue string, _ any) error {
		if queue == contracts.QueueCreateDefaultProfile {
			return boom
		}
		return nil
	}
	r.PublishHook = func(context.Context, any) error { return boom }

	ctx := context.Background()
	assert.NoError(t, r.Send(ctx, contracts.QueueSendWelcomeEmail, contracts.SendWelcomeEmail{}))
	assert.ErrorIs(t, r.Send(ctx, contracts.QueueCreateDefaultProfile, contracts.CreateDefaultProfile{}), boom)
	assert.ErrorIs(t, r.Publish(ctx, contracts.UserOnboardingCompleted{}), boom)

	assert.Len(t, r.Sent(), 1)
	assert.Empty(t, r.Published())
}
