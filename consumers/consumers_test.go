package consumers

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/privatesocial/contracts"
	"github.com/fxsml/privatesocial/dedup"
	"github.com/fxsml/privatesocial/message"
	"github.com/fxsml/privatesocial/message/bustest"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

type fakeMailer struct {
	mu   sync.Mutex
	sent []contracts.SendWelcomeEmail
	err  error
}

func (m *fakeMailer) SendWelcomeEmail(_ context.Context, cmd contracts.SendWelcomeEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, cmd)
	return nil
}

type fakeProfiles struct {
	calls int
	err   error
}

func (p *fakeProfiles) CreateDefaultProfile(context.Context, contracts.CreateDefaultProfile) error {
	p.calls++
	return p.err
}

type fakeModerator struct {
	verdict Verdict
	err     error
	got     []contracts.ModeratePostContent
}

func (m *fakeModerator) Moderate(_ context.Context, cmd contracts.ModeratePostContent) (Verdict, error) {
	m.got = append(m.got, cmd)
	return m.verdict, m.err
}

type waitCounter struct {
	mu sync.Mutex
	n  int
}

func (w *waitCounter) RateLimitWait() {
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
}

func (w *waitCounter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func TestPostCreatedConsumer_SendsOneModeration(t *testing.T) {
	bus := bustest.New()
	c := NewPostCreatedConsumer(bus)
	id := uuid.New()

	err := c.Consume(context.Background(), contracts.PostCreated{
		CorrelationID: id,
		PostID:        10,
		UserID:        1,
		Content:       "Hello world!",
	})
	require.NoError(t, err)

	require.Len(t, bus.Sent(), 1)
	assert.Empty(t, bus.Published())
	cmds := bustest.SentTo[contracts.ModeratePostContent](bus, contracts.QueueModeratePostContent)
	require.Len(t, cmds, 1)
	assert.Equal(t, contracts.ModeratePostContent{
		CorrelationID: id,
		PostID:        10,
		UserID:        1,
		Content:       "Hello world!",
	}, cmds[0])
}

func TestPostCreatedConsumer_LogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	bus := bustest.New()

	require.NoError(t, NewPostCreatedConsumer(bus).Consume(ctx, contracts.PostCreated{PostID: 10}))
	assert.Contains(t, buf.String(), "Moderation requested")

	buf.Reset()
	bus.SendHook = func(context.Context, string, any) error { return errors.New("broker down") }
	require.Error(t, NewPostCreatedConsumer(bus).Consume(ctx, contracts.PostCreated{PostID: 11}))
	assert.NotContains(t, buf.String(), "Moderation requested")
}

func TestPostCreatedConsumer_SendError(t *testing.T) {
	bus := bustest.New()
	boom := errors.New("broker down")
	bus.SendHook = func(context.Context, string, any) error { return boom }

	err := NewPostCreatedConsumer(bus).Consume(context.Background(), contracts.PostCreated{PostID: 3})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "post 3")
}

func TestModeratePostContentConsumer(t *testing.T) {
	t.Run("approved", func(t *testing.T) {
		m := &fakeModerator{verdict: Verdict{Approved: true}}
		cmd := contracts.ModeratePostContent{CorrelationID: uuid.New(), PostID: 10, Content: "Hello world!"}

		require.NoError(t, NewModeratePostContentConsumer(m, dedup.Guard{}).Consume(context.Background(), cmd))
		assert.Equal(t, []contracts.ModeratePostContent{cmd}, m.got)
	})

	t.Run("rejected is not an error", func(t *testing.T) {
		m := &fakeModerator{verdict: Verdict{Reason: "spam"}}
		require.NoError(t, NewModeratePostContentConsumer(m, dedup.Guard{}).Consume(context.Background(), contracts.ModeratePostContent{}))
	})

	t.Run("moderated once per correlation", func(t *testing.T) {
		m := &fakeModerator{verdict: Verdict{Approved: true}}
		c := NewModeratePostContentConsumer(m, dedup.Guard{Store: dedup.NewMemoryStore()})
		cmd := contracts.ModeratePostContent{CorrelationID: uuid.New(), PostID: 11}

		require.NoError(t, c.Consume(context.Background(), cmd))
		require.NoError(t, c.Consume(context.Background(), cmd))
		assert.Len(t, m.got, 1)
	})

	t.Run("moderator failure", func(t *testing.T) {
		boom := errors.New("unavailable")
		m := &fakeModerator{err: boom}
		err := NewModeratePostContentConsumer(m, dedup.Guard{}).Consume(context.Background(), contracts.ModeratePostContent{PostID: 7})
		require.ErrorIs(t, err, boom)
	})
}

func TestSendWelcomeEmailConsumer(t *testing.T) {
	bus := bustest.New()
	mailer := &fakeMailer{}
	c := NewSendWelcomeEmailConsumer(bus, mailer, dedup.Guard{})
	c.now = func() time.Time { return fixedNow }
	cmd := contracts.SendWelcomeEmail{CorrelationID: uuid.New(), UserID: 1, Username: "alice", Email: "a@x"}

	require.NoError(t, c.Consume(context.Background(), cmd))

	assert.Equal(t, []contracts.SendWelcomeEmail{cmd}, mailer.sent)
	events := bustest.PublishedOf[contracts.WelcomeEmailSent](bus)
	require.Len(t, events, 1)
	assert.Equal(t, cmd.CorrelationID, events[0].CorrelationID)
	assert.Equal(t, 1, events[0].UserID)
	assert.Equal(t, fixedNow.UTC(), events[0].SentAt)
	assert.Equal(t, time.UTC, events[0].SentAt.Location())
}

func TestSendWelcomeEmailConsumer_MailerFailurePublishesNothing(t *testing.T) {
	bus := bustest.New()
	boom := errors.New("smtp")
	c := NewSendWelcomeEmailConsumer(bus, &fakeMailer{err: boom}, dedup.Guard{})

	err := c.Consume(context.Background(), contracts.SendWelcomeEmail{UserID: 1})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, bus.Published())
}

func TestSendWelcomeEmailConsumer_ResentCommandRepliesAgain(t *testing.T) {
	bus := bustest.New()
	mailer := &fakeMailer{}
	store := dedup.NewMemoryStore()
	c := NewSendWelcomeEmailConsumer(bus, mailer, dedup.Guard{Store: store})
	cmd := contracts.SendWelcomeEmail{CorrelationID: uuid.New(), UserID: 1, Email: "a@x"}

	require.NoError(t, c.Consume(context.Background(), cmd))
	require.NoError(t, c.Consume(context.Background(), cmd))

	assert.Len(t, mailer.sent, 1)
	events := bustest.PublishedOf[contracts.WelcomeEmailSent](bus)
	require.Len(t, events, 2)
	assert.Equal(t, cmd.CorrelationID, events[1].CorrelationID)
	assert.Equal(t, 1, store.Len())
}

func TestSendWelcomeEmailConsumer_FailureRetriesMailer(t *testing.T) {
	bus := bustest.New()
	mailer := &fakeMailer{err: errors.New("smtp")}
	c := NewSendWelcomeEmailConsumer(bus, mailer, dedup.Guard{Store: dedup.NewMemoryStore()})
	cmd := contracts.SendWelcomeEmail{CorrelationID: uuid.New(), UserID: 1}

	require.Error(t, c.Consume(context.Background(), cmd))
	mailer.err = nil
	require.NoError(t, c.Consume(context.Background(), cmd))

	assert.Len(t, mailer.sent, 1)
	assert.Len(t, bustest.PublishedOf[contracts.WelcomeEmailSent](bus), 1)
}

func TestCreateDefaultProfileConsumer(t *testing.T) {
	bus := bustest.New()
	profiles := &fakeProfiles{}
	c := NewCreateDefaultProfileConsumer(bus, profiles, dedup.Guard{})
	c.now = func() time.Time { return fixedNow }
	cmd := contracts.CreateDefaultProfile{CorrelationID: uuid.New(), UserID: 2, Username: "bob", Email: "b@x"}

	require.NoError(t, c.Consume(context.Background(), cmd))

	assert.Equal(t, 1, profiles.calls)
	assert.Equal(t, []contracts.DefaultProfileCreated{{
		CorrelationID: cmd.CorrelationID,
		UserID:        2,
		CreatedAt:     fixedNow.UTC(),
	}}, bustest.PublishedOf[contracts.DefaultProfileCreated](bus))
}

func TestCreateDefaultProfileConsumer_Failure(t *testing.T) {
	bus := bustest.New()
	boom := errors.New("db")
	c := NewCreateDefaultProfileConsumer(bus, &fakeProfiles{err: boom}, dedup.Guard{})

	require.ErrorIs(t, c.Consume(context.Background(), contracts.CreateDefaultProfile{}), boom)
	assert.Empty(t, bus.Published())
}

func TestCreateDefaultProfileConsumer_ResentCommandRepliesAgain(t *testing.T) {
	bus := bustest.New()
	profiles := &fakeProfiles{}
	c := NewCreateDefaultProfileConsumer(bus, profiles, dedup.Guard{Store: dedup.NewMemoryStore()})
	cmd := contracts.CreateDefaultProfile{CorrelationID: uuid.New(), UserID: 2}

	require.NoError(t, c.Consume(context.Background(), cmd))
	require.NoError(t, c.Consume(context.Background(), cmd))

	assert.Equal(t, 1, profiles.calls)
	assert.Len(t, bustest.PublishedOf[contracts.DefaultProfileCreated](bus), 2)
}

func TestLogConsumers(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, UserRegisteredLogConsumer{}.Consume(ctx, contracts.UserRegistered{UserID: 1}))
	assert.NoError(t, PostActivityLogConsumer{}.ConsumeUpdated(ctx, contracts.PostUpdated{PostID: 1}))
	assert.NoError(t, PostActivityLogConsumer{}.ConsumeDeleted(ctx, contracts.PostDeleted{PostID: 1}))
}

func TestHandlerTypes(t *testing.T) {
	bus := bustest.New()
	types := func(hs ...message.Handler) []string {
		var out []string
		for _, h := range hs {
			out = append(out, h.EventType())
		}
		return out
	}

	assert.Equal(t, []string{"post-created"}, types(NewPostCreatedConsumer(bus).Handler()))
	assert.Equal(t, []string{"moderate-post-content"}, types(NewModeratePostContentConsumer(SimulatedModerator{}, dedup.Guard{}).Handler()))
	assert.Equal(t, []string{"send-welcome-email"}, types(NewSendWelcomeEmailConsumer(bus, &fakeMailer{}, dedup.Guard{}).Handler()))
	assert.Equal(t, []string{"create-default-profile"}, types(NewCreateDefaultProfileConsumer(bus, &fakeProfiles{}, dedup.Guard{}).Handler()))
	assert.Equal(t, []string{"user-registered"}, types(UserRegisteredLogConsumer{}.Handler()))
	assert.Equal(t, []string{"post-updated", "post-deleted"}, types(PostActivityLogConsumer{}.Handlers()...))
}

func TestHandler_DecodedPayload(t *testing.T) {
	bus := bustest.New()
	h := NewPostCreatedConsumer(bus).Handler()

	in := h.NewInput().(*contracts.PostCreated)
	in.PostID = 5
	require.NoError(t, h.Handle(context.Background(), &message.Message{Data: in}))
	assert.Len(t, bus.Sent(), 1)
}

func TestSimulatedServices(t *testing.T) {
	ctx := context.Background()

	v, err := SimulatedModerator{Latency: time.Millisecond}.Moderate(ctx, contracts.ModeratePostContent{})
	require.NoError(t, err)
	assert.True(t, v.Approved)

	require.NoError(t, SimulatedProfileService{Latency: time.Millisecond}.CreateDefaultProfile(ctx, contracts.CreateDefaultProfile{}))
}

func TestSimulatedServices_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SimulatedModerator{Latency: time.Hour}.Moderate(ctx, contracts.ModeratePostContent{})
	assert.ErrorIs(t, err, context.Canceled)

	err = SimulatedProfileService{Latency: time.Hour}.CreateDefaultProfile(ctx, contracts.CreateDefaultProfile{})
	assert.ErrorIs(t, err, context.Canceled)

	m := NewSimulatedMailer(SimulatedMailerConfig{Latency: time.Hour})
	assert.ErrorIs(t, m.SendWelcomeEmail(ctx, contracts.SendWelcomeEmail{}), context.Canceled)
}

func TestSimulatedMailer_RateLimited(t *testing.T) {
	obs := &waitCounter{}
	m := NewSimulatedMailer(SimulatedMailerConfig{
		Latency:  time.Millisecond,
		Rate:     0.1,
		Burst:    1,
		Observer: obs,
	})

	require.NoError(t, m.SendWelcomeEmail(context.Background(), contracts.SendWelcomeEmail{}))
	assert.Equal(t, 0, obs.count())

	// The next token is ten seconds away.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.SendWelcomeEmail(ctx, contracts.SendWelcomeEmail{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Equal(t, 1, obs.count())
}

func TestSimulatedMailer_Unlimited(t *testing.T) {
	obs := &waitCounter{}
	m := NewSimulatedMailer(SimulatedMailerConfig{Latency: time.Microsecond, Observer: obs})

	for range 20 {
		require.NoError(t, m.SendWelcomeEmail(context.Background(), contracts.SendWelcomeEmail{}))
	}
	assert.Equal(t, 0, obs.count())
}
