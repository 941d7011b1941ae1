package saga

import (
	"fmt"
	"time"

	"github.com/fxsml/privatesocial/contracts"
)

// Transition computes the effect of ev on an instance in state.
// inst is nil when state is StateNone. Transition never mutates inst;
// the returned Result holds a copy.
//
// timeout sets the deadline of new instances. Zero disables expiry.
func Transition(state State, ev Event, inst *UserOnboardingState, now time.Time, timeout time.Duration) (Result, error) {
	switch ev.Kind {
	case EventUserRegistered, EventWelcomeEmailSent, EventDefaultProfileCreated, EventDeadlineExpired:
	default:
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownEvent, ev.Kind)
	}
	if inst != nil && inst.CorrelationID != ev.CorrelationID {
		return Result{}, fmt.Errorf("%w: instance %s, event %s", ErrCorrelationMismatch, inst.CorrelationID, ev.CorrelationID)
	}

	ignore := Result{State: state}
	if inst != nil {
		cp := *inst
		ignore.Instance = &cp
	}

	switch state {
	case StateNone:
		if ev.Kind != EventUserRegistered {
			return ignore, nil
		}
		return start(ev, now, timeout), nil

	case StateInProgress:
		if inst == nil {
			return Result{}, fmt.Errorf("saga: %s without instance", state)
		}
		next := *inst
		switch ev.Kind {
		case EventWelcomeEmailSent:
			if next.WelcomeEmailSent {
				return ignore, nil
			}
			next.WelcomeEmailSent = true
		case EventDefaultProfileCreated:
			if next.DefaultProfileCreated {
				return ignore, nil
			}
			next.DefaultProfileCreated = true
		case EventDeadlineExpired:
			if next.ExpiresAt.IsZero() || now.Before(next.ExpiresAt) {
				return ignore, nil
			}
			return expire(next, now), nil
		default:
			return ignore, nil
		}
		if next.WelcomeEmailSent && next.DefaultProfileCreated {
			return complete(next, now), nil
		}
		return Result{State: StateInProgress, Instance: &next, Changed: true}, nil
	}

	// Completed and Expired are terminal.
	return ignore, nil
}

func start(ev Event, now time.Time, timeout time.Duration) Result {
	inst := UserOnboardingState{
		CorrelationID: ev.CorrelationID,
		CurrentState:  StateInProgress,
		UserID:        ev.UserID,
		Username:      ev.Username,
		Email:         ev.Email,
		StartedAt:     now,
	}
	if timeout > 0 {
		inst.ExpiresAt = now.Add(timeout)
	}
	return Result{
		State:    StateInProgress,
		Instance: &inst,
		Outbound: []Outbound{
			{
				Queue: contracts.QueueSendWelcomeEmail,
				Message: contracts.SendWelcomeEmail{
					CorrelationID: inst.CorrelationID,
					UserID:        inst.UserID,
					Username:      inst.Username,
					Email:         inst.Email,
				},
			},
			{
				Queue: contracts.QueueCreateDefaultProfile,
				Message: contracts.CreateDefaultProfile{
					CorrelationID: inst.CorrelationID,
					UserID:        inst.UserID,
					Username:      inst.Username,
					Email:         inst.Email,
				},
			},
		},
		Changed: true,
	}
}

func complete(inst UserOnboardingState, now time.Time) Result {
	inst.CurrentState = StateCompleted
	inst.CompletedAt = &now
	return Result{
		State:    StateCompleted,
		Instance: &inst,
		Outbound: []Outbound{{
			Message: contracts.UserOnboardingCompleted{
				CorrelationID: inst.CorrelationID,
				UserID:        inst.UserID,
				Username:      inst.Username,
				CompletedAt:   now,
			},
		}},
		Finalize: true,
		Changed:  true,
	}
}

func expire(inst UserOnboardingState, now time.Time) Result {
	inst.CurrentState = StateExpired
	return Result{
		State:    StateExpired,
		Instance: &inst,
		Outbound: []Outbound{{
			Message: contracts.UserOnboardingExpired{
				CorrelationID:         inst.CorrelationID,
				UserID:                inst.UserID,
				Username:              inst.Username,
				WelcomeEmailSent:      inst.WelcomeEmailSent,
				DefaultProfileCreated: inst.DefaultProfileCreated,
				ExpiredAt:             now,
			},
		}},
		Finalize: true,
		Changed:  true,
	}
}
