package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/privatesocial/config"
	"github.com/fxsml/privatesocial/contracts"
	"github.com/fxsml/privatesocial/dedup"
	"github.com/fxsml/privatesocial/internal/worker"
	"github.com/fxsml/privatesocial/message"
	"github.com/fxsml/privatesocial/message/broker"
	"github.com/fxsml/privatesocial/metrics"
	"github.com/fxsml/privatesocial/saga"
)

type harness struct {
	worker  *worker.Worker
	broker  *broker.ChannelBroker
	metrics *metrics.Metrics
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Endpoint.Concurrency = 2
	cfg.Endpoint.Timeout = 5 * time.Second
	cfg.Endpoint.ShutdownTimeout = 50 * time.Millisecond
	cfg.Consumers.MailerLatency = time.Millisecond
	cfg.Consumers.ProfileLatency = time.Millisecond
	cfg.Consumers.ModeratorLatency = time.Millisecond
	cfg.Saga.SweepInterval = 10 * time.Millisecond
	return &cfg
}

func start(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	return startWith(t, cfg, func(b *broker.ChannelBroker) message.Transport { return b })
}

// startWith runs the worker on the transport returned by wrap.
func startWith(t *testing.T, cfg *config.Config, wrap func(*broker.ChannelBroker) message.Transport) *harness {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry(), "test")
	b := broker.NewChannelBroker(broker.ChannelBrokerConfig{
		RedeliveryDelay: 10 * time.Millisecond,
		Observer:        m,
	})
	w, err := worker.New(cfg, worker.Deps{
		Transport: wrap(b),
		Dedup:     dedup.NewMemoryStore(),
		Metrics:   m,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-stopped:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
		_ = b.Close()
	})

	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("worker not ready")
	}
	return &harness{worker: w, broker: b, metrics: m}
}

type recorder struct {
	mu    sync.Mutex
	types []string
}

// failOnce fails the first Send to queue.
type failOnce struct {
	*broker.ChannelBroker
	queue  string
	failed atomic.Bool
}

func (f *failOnce) Send(ctx context.Context, queue string, msg *message.Message) error {
	if message.QueueName(queue) == message.QueueName(f.queue) && f.failed.CompareAndSwap(false, true) {
		return errors.New("broker unavailable")
	}
	return f.ChannelBroker.Send(ctx, queue, msg)
}

// watch binds its own queue to types before anything is published.
func (h *harness) watch(t *testing.T, types ...string) *recorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	in, err := h.broker.Subscribe(ctx, message.Endpoint{Name: "recorder-" + uuid.NewString(), Types: types})
	require.NoError(t, err)

	p := &recorder{}
	go func() {
		for msg := range in {
			msg.Ack()
			typ, _ := msg.Attributes.Type()
			p.mu.Lock()
			p.types = append(p.types, typ)
			p.mu.Unlock()
		}
	}()
	return p
}

func (p *recorder) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.types {
		if t == typ {
			n++
		}
	}
	return n
}

func TestWorker_Endpoints(t *testing.T) {
	h := start(t, testConfig())
	assert.Equal(t, []string{
		worker.EndpointOnboardingSaga,
		worker.EndpointPostCreated,
		worker.EndpointModeratePostContent,
		worker.EndpointSendWelcomeEmail,
		worker.EndpointCreateDefaultProfile,
		worker.EndpointUserRegisteredLog,
		worker.EndpointPostActivityLog,
	}, h.worker.Endpoints())
}

func TestWorker_OnboardingCompletes(t *testing.T) {
	h := start(t, testConfig())
	p := h.watch(t, "user-onboarding-completed", "user-onboarding-expired")
	id := uuid.New()

	require.NoError(t, h.worker.Bus().Publish(context.Background(), contracts.UserRegistered{
		CorrelationID: id,
		UserID:        1,
		Username:      "alice",
		Email:         "alice@example.com",
		RegisteredAt:  time.Now().UTC(),
	}))

	require.Eventually(t, func() bool {
		return p.count("user-onboarding-completed") == 1
	}, 3*time.Second, 10*time.Millisecond)

	inst, ok := h.worker.Sagas().Get(id)
	require.True(t, ok)
	assert.Equal(t, saga.StateCompleted, inst.CurrentState)
	assert.True(t, inst.WelcomeEmailSent)
	assert.True(t, inst.DefaultProfileCreated)
	require.NotNil(t, inst.CompletedAt)

	// Nothing else arrives for this workflow.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, p.count("user-onboarding-completed"))
	assert.Equal(t, 0, p.count("user-onboarding-expired"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SagasStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SagasCompleted))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.SagasActive))
}

func TestWorker_DuplicateRegistrationStartsOneSaga(t *testing.T) {
	h := start(t, testConfig())
	p := h.watch(t, "user-onboarding-completed")
	ev := contracts.UserRegistered{CorrelationID: uuid.New(), UserID: 2, Username: "bob", Email: "b@x"}

	require.NoError(t, h.worker.Bus().Publish(context.Background(), ev))
	require.NoError(t, h.worker.Bus().Publish(context.Background(), ev))

	require.Eventually(t, func() bool {
		return p.count("user-onboarding-completed") == 1
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, p.count("user-onboarding-completed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SagasStarted))
}

func TestWorker_OnboardingExpires(t *testing.T) {
	cfg := testConfig()
	cfg.Saga.Timeout = 100 * time.Millisecond
	cfg.Consumers.MailerLatency = time.Hour
	h := start(t, cfg)
	p := h.watch(t, "user-onboarding-completed", "user-onboarding-expired")
	id := uuid.New()

	require.NoError(t, h.worker.Bus().Publish(context.Background(), contracts.UserRegistered{
		CorrelationID: id,
		UserID:        3,
		Username:      "carol",
		Email:         "c@x",
	}))

	require.Eventually(t, func() bool {
		return p.count("user-onboarding-expired") == 1
	}, 3*time.Second, 10*time.Millisecond)

	inst, ok := h.worker.Sagas().Get(id)
	require.True(t, ok)
	assert.Equal(t, saga.StateExpired, inst.CurrentState)
	assert.False(t, inst.WelcomeEmailSent)
	assert.True(t, inst.DefaultProfileCreated)
	assert.Equal(t, 0, p.count("user-onboarding-completed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SagasExpired))
}

func TestWorker_PostCreatedIsModerated(t *testing.T) {
	h := start(t, testConfig())

	require.NoError(t, h.worker.Bus().Publish(context.Background(), contracts.PostCreated{
		CorrelationID: uuid.New(),
		PostID:        10,
		UserID:        1,
		Content:       "Hello world!",
	}))

	handled := func(endpoint, typ string) float64 {
		return testutil.ToFloat64(h.metrics.MessagesHandled.WithLabelValues(endpoint, typ, "success"))
	}
	require.Eventually(t, func() bool {
		return handled(worker.EndpointModeratePostContent, "moderate-post-content") == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, handled(worker.EndpointPostCreated, "post-created"))
}

func TestWorker_OnboardingConvergesAfterFailedDispatch(t *testing.T) {
	var transport *failOnce
	h := startWith(t, testConfig(), func(b *broker.ChannelBroker) message.Transport {
		transport = &failOnce{ChannelBroker: b, queue: contracts.QueueCreateDefaultProfile}
		return transport
	})
	p := h.watch(t, "user-onboarding-completed")
	id := uuid.New()

	// The welcome email goes out before the profile command fails, so the
	// saga is rolled back after the mailer ran and its reply is dropped.
	require.NoError(t, h.worker.Bus().Publish(context.Background(), contracts.UserRegistered{
		CorrelationID: id,
		UserID:        5,
		Username:      "erin",
		Email:         "e@x",
	}))

	require.Eventually(t, func() bool {
		return p.count("user-onboarding-completed") == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, transport.failed.Load())

	inst, ok := h.worker.Sagas().Get(id)
	require.True(t, ok)
	assert.Equal(t, saga.StateCompleted, inst.CurrentState)
	assert.True(t, inst.WelcomeEmailSent)
	assert.True(t, inst.DefaultProfileCreated)

	handled := func(endpoint, typ string) float64 {
		return testutil.ToFloat64(h.metrics.MessagesHandled.WithLabelValues(endpoint, typ, "success"))
	}
	// The resent command skips the mailer but replies again.
	require.Eventually(t, func() bool {
		return handled(worker.EndpointSendWelcomeEmail, "send-welcome-email") == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, handled(worker.EndpointCreateDefaultProfile, "create-default-profile"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, p.count("user-onboarding-completed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SagasStarted))
}

func TestWorker_ResentCommandRepliesAgain(t *testing.T) {
	h := start(t, testConfig())
	p := h.watch(t, "welcome-email-sent")
	cmd := contracts.SendWelcomeEmail{CorrelationID: uuid.New(), UserID: 4, Username: "dan", Email: "d@x"}

	require.NoError(t, h.worker.Bus().Send(context.Background(), contracts.QueueSendWelcomeEmail, cmd))
	require.NoError(t, h.worker.Bus().Send(context.Background(), contracts.QueueSendWelcomeEmail, cmd))

	require.Eventually(t, func() bool {
		return p.count("welcome-email-sent") == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.DuplicatesSkipped.WithLabelValues(worker.EndpointSendWelcomeEmail)))
}

func TestWorker_RedeliveredMessageSkipped(t *testing.T) {
	h := start(t, testConfig())
	p := h.watch(t, "welcome-email-sent")
	cmd := contracts.SendWelcomeEmail{CorrelationID: uuid.New(), UserID: 6, Username: "fay", Email: "f@x"}
	newMsg := func() *message.Message {
		return message.New(cmd, message.Attributes{
			message.AttrID:   "cmd-1",
			message.AttrType: "send-welcome-email",
		})
	}

	require.NoError(t, h.broker.Send(context.Background(), contracts.QueueSendWelcomeEmail, newMsg()))
	require.NoError(t, h.broker.Send(context.Background(), contracts.QueueSendWelcomeEmail, newMsg()))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.DuplicatesSkipped.WithLabelValues(worker.EndpointSendWelcomeEmail)) == 1
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, p.count("welcome-email-sent"))
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := worker.New(testConfig(), worker.Deps{})
	assert.Error(t, err)
}
