package contracts

import (
	"time"

	"github.com/google/uuid"
)

// UserRegistered is published by the API after a user row is committed.
type UserRegistered struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	UserID        int       `json:"userId"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

// WelcomeEmailSent is published once the welcome email went out.
type WelcomeEmailSent struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	UserID        int       `json:"userId"`
	SentAt        time.Time `json:"sentAt"`
}

// DefaultProfileCreated is published once the default profile exists.
type DefaultProfileCreated struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	UserID        int       `json:"userId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// UserOnboardingCompleted is the terminal signal of a successful onboarding.
type UserOnboardingCompleted struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	UserID        int       `json:"userId"`
	Username      string    `json:"username"`
	CompletedAt   time.Time `json:"completedAt"`
}

// UserOnboardingExpired is published when an onboarding did not complete
// before its deadline. The flags report which steps did finish.
type UserOnboardingExpired struct {
	CorrelationID         uuid.UUID `json:"correlationId"`
	UserID                int       `json:"userId"`
	Username              string    `json:"username"`
	WelcomeEmailSent      bool      `json:"welcomeEmailSent"`
	DefaultProfileCreated bool      `json:"defaultProfileCreated"`
	ExpiredAt             time.Time `json:"expiredAt"`
}

// PostCreated is published by the API after a post row is committed.
type PostCreated struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	PostID        int       `json:"postId"`
	UserID        int       `json:"userId"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PostUpdated is published by the API after a post was edited.
type PostUpdated struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	PostID        int       `json:"postId"`
	UserID        int       `json:"userId"`
	Content       string    `json:"content"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PostDeleted is published by the API after a post was removed.
type PostDeleted struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	PostID        int       `json:"postId"`
	UserID        int       `json:"userId"`
	DeletedAt     time.Time `json:"deletedAt"`
}

func (e UserRegistered) Correlation() uuid.UUID          { return e.CorrelationID }
func (e WelcomeEmailSent) Correlation() uuid.UUID        { return e.CorrelationID }
func (e DefaultProfileCreated) Correlation() uuid.UUID   { return e.CorrelationID }
func (e UserOnboardingCompleted) Correlation() uuid.UUID { return e.CorrelationID }
func (e UserOnboardingExpired) Correlation() uuid.UUID   { return e.CorrelationID }
func (e PostCreated) Correlation() uuid.UUID             { return e.CorrelationID }
func (e PostUpdated) Correlation() uuid.UUID             { return e.CorrelationID }
func (e PostDeleted) Correlation() uuid.UUID             { return e.CorrelationID }
