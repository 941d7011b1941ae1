package message

import "github.com/google/uuid"

// IDGenerator generates unique message IDs.
type IDGenerator func() string

// DefaultIDGenerator is used by the Dispatcher when no generator is configured.
var DefaultIDGenerator IDGenerator = uuid.NewString
