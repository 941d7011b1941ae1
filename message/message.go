package message

import "time"

// Message is a unit of data with CloudEvents context attributes and
// optional acknowledgment callbacks.
//
// Data holds either a typed payload (in-process transports, outgoing
// messages) or encoded bytes (network transports); the router decodes bytes
// into the handler's input type before invoking it.
type Message struct {
	Data       any
	Attributes Attributes

	a *Acking
}

// New creates a message without acknowledgment.
// Pass nil for attrs if no attributes are needed.
func New(data any, attrs Attributes) *Message {
	if attrs == nil {
		attrs = make(Attributes)
	}
	return &Message{Data: data, Attributes: attrs}
}

// NewWithAcking creates a message bound to the given acking.
// A nil acking makes Ack and Nack no-ops.
func NewWithAcking(data any, attrs Attributes, acking *Acking) *Message {
	msg := New(data, attrs)
	msg.a = acking
	return msg
}

// Ack acknowledges successful processing.
// Returns false if the message has no acking or was already nacked.
func (m *Message) Ack() bool {
	return m.a.ack()
}

// Nack negatively acknowledges the message due to a processing error.
// Returns false if the message has no acking or was already acked.
func (m *Message) Nack(err error) bool {
	return m.a.nack(err)
}

// Settled reports whether the message was acked or nacked.
func (m *Message) Settled() bool {
	return m.a.Settled()
}

// Clone returns a copy with its own attribute map and no acking.
// Data is shared.
func (m *Message) Clone() *Message {
	attrs := make(Attributes, len(m.Attributes))
	for k, v := range m.Attributes {
		attrs[k] = v
	}
	return &Message{Data: m.Data, Attributes: attrs}
}

// ExpiryTime returns the expirytime attribute, or the zero time if the
// attribute is missing or malformed.
func (m *Message) ExpiryTime() time.Time {
	switch v := m.Attributes[AttrExpiryTime].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}
