package contracts

import "github.com/google/uuid"

// SendWelcomeEmail asks the mail consumer to greet a new user.
type SendWelcomeEmail struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	UserID        int       `json:"userId"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
}

// CreateDefaultProfile asks the profile consumer to set up a new user.
type CreateDefaultProfile struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	UserID        int       `json:"userId"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
}

// ModeratePostContent asks the moderation consumer to review a post.
type ModeratePostContent struct {
	CorrelationID uuid.UUID `json:"correlationId"`
	PostID        int       `json:"postId"`
	UserID        int       `json:"userId"`
	Content       string    `json:"content"`
}

func (c SendWelcomeEmail) Correlation() uuid.UUID     { return c.CorrelationID }
func (c CreateDefaultProfile) Correlation() uuid.UUID { return c.CorrelationID }
func (c ModeratePostContent) Correlation() uuid.UUID  { return c.CorrelationID }
