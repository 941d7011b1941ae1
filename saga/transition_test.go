package saga

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/privatesocial/contracts"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func registered(id uuid.UUID) Event {
	return Event{Kind: EventUserRegistered, CorrelationID: id, UserID: 3, Username: "fullflow", Email: "full@example.com"}
}

func TestTransition_UserRegisteredStartsSaga(t *testing.T) {
	id := uuid.New()
	res, err := Transition(StateNone, registered(id), nil, t0, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, StateInProgress, res.State)
	assert.True(t, res.Changed)
	assert.False(t, res.Finalize)
	require.NotNil(t, res.Instance)
	assert.Equal(t, UserOnboardingState{
		CorrelationID: id,
		CurrentState:  StateInProgress,
		UserID:        3,
		Username:      "fullflow",
		Email:         "full@example.com",
		StartedAt:     t0,
		ExpiresAt:     t0.Add(time.Minute),
	}, *res.Instance)

	assert.Equal(t, []Outbound{
		{Queue: contracts.QueueSendWelcomeEmail, Message: contracts.SendWelcomeEmail{
			CorrelationID: id, UserID: 3, Username: "fullflow", Email: "full@example.com",
		}},
		{Queue: contracts.QueueCreateDefaultProfile, Message: contracts.CreateDefaultProfile{
			CorrelationID: id, UserID: 3, Username: "fullflow", Email: "full@example.com",
		}},
	}, res.Outbound)
}

func TestTransition_NoExpiryWithoutTimeout(t *testing.T) {
	res, err := Transition(StateNone, registered(uuid.New()), nil, t0, 0)
	require.NoError(t, err)
	assert.True(t, res.Instance.ExpiresAt.IsZero())
}

func TestTransition_JoinInEitherOrder(t *testing.T) {
	orders := map[string][]EventKind{
		"email then profile": {EventWelcomeEmailSent, EventDefaultProfileCreated},
		"profile then email": {EventDefaultProfileCreated, EventWelcomeEmailSent},
	}
	for name, kinds := range orders {
		t.Run(name, func(t *testing.T) {
			id := uuid.New()
			res, err := Transition(StateNone, registered(id), nil, t0, time.Minute)
			require.NoError(t, err)

			first, err := Transition(res.State, Event{Kind: kinds[0], CorrelationID: id}, res.Instance, t0.Add(time.Second), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, StateInProgress, first.State)
			assert.True(t, first.Changed)
			assert.Empty(t, first.Outbound)
			assert.False(t, first.Finalize)

			done := t0.Add(2 * time.Second)
			second, err := Transition(first.State, Event{Kind: kinds[1], CorrelationID: id}, first.Instance, done, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, StateCompleted, second.State)
			assert.True(t, second.Finalize)
			assert.True(t, second.Instance.WelcomeEmailSent)
			assert.True(t, second.Instance.DefaultProfileCreated)
			require.NotNil(t, second.Instance.CompletedAt)
			assert.Equal(t, done, *second.Instance.CompletedAt)
			assert.Equal(t, []Outbound{{Message: contracts.UserOnboardingCompleted{
				CorrelationID: id, UserID: 3, Username: "fullflow", CompletedAt: done,
			}}}, second.Outbound)
		})
	}
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	id := uuid.New()
	res, err := Transition(StateNone, registered(id), nil, t0, time.Minute)
	require.NoError(t, err)
	inst := *res.Instance

	_, err = Transition(StateInProgress, Event{Kind: EventWelcomeEmailSent, CorrelationID: id}, &inst, t0, time.Minute)
	require.NoError(t, err)
	assert.False(t, inst.WelcomeEmailSent)
}

func TestTransition_Ignored(t *testing.T) {
	id := uuid.New()
	started, err := Transition(StateNone, registered(id), nil, t0, time.Minute)
	require.NoError(t, err)
	inProgress := started.Instance

	emailed := *inProgress
	emailed.WelcomeEmailSent = true

	completed := *inProgress
	completed.CurrentState = StateCompleted

	tests := []struct {
		name  string
		state State
		ev    Event
		inst  *UserOnboardingState
	}{
		{"step without instance", StateNone, Event{Kind: EventWelcomeEmailSent, CorrelationID: id}, nil},
		{"deadline without instance", StateNone, Event{Kind: EventDeadlineExpired, CorrelationID: id}, nil},
		{"registered again", StateInProgress, registered(id), inProgress},
		{"duplicate step", StateInProgress, Event{Kind: EventWelcomeEmailSent, CorrelationID: id}, &emailed},
		{"deadline not reached", StateInProgress, Event{Kind: EventDeadlineExpired, CorrelationID: id}, inProgress},
		{"registered after completion", StateCompleted, registered(id), &completed},
		{"step after completion", StateCompleted, Event{Kind: EventDefaultProfileCreated, CorrelationID: id}, &completed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Transition(tt.state, tt.ev, tt.inst, t0, time.Minute)
			require.NoError(t, err)
			assert.False(t, res.Changed)
			assert.False(t, res.Finalize)
			assert.Empty(t, res.Outbound)
			assert.Equal(t, tt.state, res.State)
		})
	}
}

func TestTransition_Expire(t *testing.T) {
	id := uuid.New()
	started, err := Transition(StateNone, registered(id), nil, t0, time.Minute)
	require.NoError(t, err)
	step, err := Transition(StateInProgress, Event{Kind: EventWelcomeEmailSent, CorrelationID: id}, started.Instance, t0, time.Minute)
	require.NoError(t, err)

	at := t0.Add(time.Minute)
	res, err := Transition(StateInProgress, Event{Kind: EventDeadlineExpired, CorrelationID: id}, step.Instance, at, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, res.State)
	assert.True(t, res.Finalize)
	assert.Nil(t, res.Instance.CompletedAt)
	assert.Equal(t, []Outbound{{Message: contracts.UserOnboardingExpired{
		CorrelationID: id, UserID: 3, Username: "fullflow",
		WelcomeEmailSent: true, DefaultProfileCreated: false, ExpiredAt: at,
	}}}, res.Outbound)

	again, err := Transition(res.State, Event{Kind: EventWelcomeEmailSent, CorrelationID: id}, res.Instance, at, time.Minute)
	require.NoError(t, err)
	assert.False(t, again.Changed)
}

func TestTransition_Errors(t *testing.T) {
	id := uuid.New()
	started, err := Transition(StateNone, registered(id), nil, t0, time.Minute)
	require.NoError(t, err)

	_, err = Transition(StateInProgress, Event{Kind: EventWelcomeEmailSent, CorrelationID: uuid.New()}, started.Instance, t0, time.Minute)
	assert.ErrorIs(t, err, ErrCorrelationMismatch)

	_, err = Transition(StateNone, Event{Kind: EventKind(99), CorrelationID: id}, nil, t0, time.Minute)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = Transition(StateInProgress, Event{Kind: EventWelcomeEmailSent, CorrelationID: id}, nil, t0, time.Minute)
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "OnboardingInProgress", StateInProgress.String())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateExpired.Terminal())
	assert.False(t, StateInProgress.Terminal())
	assert.Equal(t, "DeadlineExpired", EventDeadlineExpired.String())
}
