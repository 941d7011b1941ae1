package message

import "errors"

var (
	// ErrAlreadyStarted is returned when Start is called on an already-started router or engine.
	ErrAlreadyStarted = errors.New("message: already started")

	// ErrNoHandler is returned when no handler is registered for a message type.
	ErrNoHandler = errors.New("message: no handler for type")

	// ErrInvalidData is returned when message data cannot be converted to the handler input.
	ErrInvalidData = errors.New("message: invalid data")

	// ErrDuplicateHandler is returned when two handlers claim the same type on one router.
	ErrDuplicateHandler = errors.New("message: duplicate handler")

	// ErrMissingType is returned when an outgoing message has no type attribute.
	ErrMissingType = errors.New("message: missing type")

	// ErrNacked is the nack error used when Nack is called with nil.
	ErrNacked = errors.New("message: nacked")

	// ErrPermanent marks a wrapped error as not retryable.
	ErrPermanent = errors.New("message: permanent failure")
)

// IsPermanent reports whether err can never succeed on redelivery.
// Transports dead-letter such messages instead of retrying them.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNoHandler) || errors.Is(err, ErrInvalidData) || errors.Is(err, ErrPermanent)
}
