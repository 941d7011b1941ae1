package message

import "fmt"

// Attributes is a map of message context attributes per CloudEvents spec.
//
// Attributes is not safe for concurrent read/write access. Handlers receive
// a single message at a time; transports clone attributes per delivery.
type Attributes map[string]any

// CloudEvents attribute keys for use in Attributes map literals.
const (
	// AttrID is required by CloudEvents. Unique event identifier.
	AttrID = "id"
	// AttrType is required by CloudEvents. Event type (e.g., "post-created").
	AttrType = "type"
	// AttrSource is required by CloudEvents. Event source URI.
	AttrSource = "source"
	// AttrSpecVersion is required by CloudEvents. Spec version (default "1.0").
	AttrSpecVersion = "specversion"
	// AttrSubject is optional in CloudEvents. Event subject/context.
	AttrSubject = "subject"
	// AttrTime is optional in CloudEvents. Event timestamp (RFC3339).
	AttrTime = "time"
	// AttrDataContentType is optional in CloudEvents. Data content type.
	AttrDataContentType = "datacontenttype"
)

// Extension attributes.
const (
	// AttrCorrelationID ties together every message of one workflow.
	AttrCorrelationID = "correlationid"
	// AttrCausationID is the id of the message that caused this one.
	AttrCausationID = "causationid"
	// AttrExpiryTime is the RFC3339 time after which the message must not be processed.
	AttrExpiryTime = "expirytime"
	// AttrDeliveryCount is the one-based delivery attempt, set by transports.
	// It is local to a delivery and never travels on the wire.
	AttrDeliveryCount = "deliverycount"
)

// SpecVersion is the CloudEvents version stamped on outgoing messages.
const SpecVersion = "1.0"

// ID returns the id attribute.
func (a Attributes) ID() (string, bool) {
	return a.str(AttrID)
}

// Type returns the type attribute.
func (a Attributes) Type() (string, bool) {
	return a.str(AttrType)
}

// Source returns the source attribute.
func (a Attributes) Source() (string, bool) {
	return a.str(AttrSource)
}

// CorrelationID returns the correlationid extension.
func (a Attributes) CorrelationID() (string, bool) {
	return a.str(AttrCorrelationID)
}

// CausationID returns the causationid extension.
func (a Attributes) CausationID() (string, bool) {
	return a.str(AttrCausationID)
}

// DeliveryCount returns the delivery attempt, or 1 if the transport did not set it.
func (a Attributes) DeliveryCount() int {
	switch v := a[AttrDeliveryCount].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 1
}

func (a Attributes) str(key string) (string, bool) {
	switch v := a[key].(type) {
	case string:
		return v, v != ""
	case fmt.Stringer:
		s := v.String()
		return s, s != ""
	}
	return "", false
}
