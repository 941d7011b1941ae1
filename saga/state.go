// Package saga coordinates user onboarding.
//
// A UserRegistered event starts one saga instance per correlation id. The
// instance dispatches SendWelcomeEmail and CreateDefaultProfile, then waits
// for WelcomeEmailSent and DefaultProfileCreated in any order. When both
// have arrived it publishes UserOnboardingCompleted exactly once and is
// finalized. Instances that do not complete before their deadline publish
// UserOnboardingExpired instead.
//
// Transition is a pure function; Store serializes all updates of one
// correlation id; Orchestrator glues both to the message bus.
package saga

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownEvent is returned by Transition for an unknown event kind.
	ErrUnknownEvent = errors.New("saga: unknown event")

	// ErrCorrelationMismatch is returned by Transition when the event and
	// the instance belong to different sagas.
	ErrCorrelationMismatch = errors.New("saga: correlation id mismatch")
)

// State is the lifecycle state of a saga instance.
type State int

const (
	// StateNone means no instance exists for the correlation id.
	StateNone State = iota
	// StateInProgress waits for the onboarding steps.
	StateInProgress
	// StateCompleted is reached when both steps completed.
	StateCompleted
	// StateExpired is reached when the deadline passed first.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateInProgress:
		return "OnboardingInProgress"
	case StateCompleted:
		return "Completed"
	case StateExpired:
		return "Expired"
	}
	return "Unknown"
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired
}

// EventKind identifies the input of a transition.
type EventKind int

const (
	EventUserRegistered EventKind = iota + 1
	EventWelcomeEmailSent
	EventDefaultProfileCreated
	// EventDeadlineExpired is raised by the sweeper, never received from the bus.
	EventDeadlineExpired
)

func (k EventKind) String() string {
	switch k {
	case EventUserRegistered:
		return "UserRegistered"
	case EventWelcomeEmailSent:
		return "WelcomeEmailSent"
	case EventDefaultProfileCreated:
		return "DefaultProfileCreated"
	case EventDeadlineExpired:
		return "DeadlineExpired"
	}
	return "Unknown"
}

// UserOnboardingState is the saga instance.
type UserOnboardingState struct {
	CorrelationID uuid.UUID
	CurrentState  State

	// Captured once from UserRegistered.
	UserID   int
	Username string
	Email    string

	// Write-once flags.
	WelcomeEmailSent      bool
	DefaultProfileCreated bool

	StartedAt   time.Time
	CompletedAt *time.Time
	ExpiresAt   time.Time
}

// Event is the transition input.
type Event struct {
	Kind          EventKind
	CorrelationID uuid.UUID

	// Set for EventUserRegistered only.
	UserID   int
	Username string
	Email    string
}

// Outbound is a message produced by a transition. An empty Queue means
// the message is an event to publish.
type Outbound struct {
	Queue   string
	Message any
}

// Result is the outcome of a transition.
type Result struct {
	// State after the transition.
	State State
	// Instance to commit. Nil when the transition was a no-op on a missing instance.
	Instance *UserOnboardingState
	// Outbound messages, in dispatch order.
	Outbound []Outbound
	// Finalize removes the instance from the active set.
	Finalize bool
	// Changed is false for ignored events.
	Changed bool
}
