// Package contracts defines the events and commands exchanged between the
// API layer, the onboarding saga and the stateless consumers.
//
// Every contract is a flat record carrying a CorrelationID that ties all
// messages of one workflow together. Contracts hold no logic; transports
// derive their wire type name from the Go type name (see message.KebabNaming),
// e.g. ModeratePostContent travels as "moderate-post-content" and is sent to
// "queue:moderate-post-content".
package contracts

import "github.com/google/uuid"

// Correlated is implemented by every contract.
type Correlated interface {
	Correlation() uuid.UUID
}

// Queue addresses of the point-to-point commands.
const (
	QueueSendWelcomeEmail     = "queue:send-welcome-email"
	QueueCreateDefaultProfile = "queue:create-default-profile"
	QueueModeratePostContent  = "queue:moderate-post-content"
)
