// Package cloudevents converts messages to and from CloudEvents 1.0 events
// in structured JSON mode.
package cloudevents

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/fxsml/privatesocial/message"
)

// ContentType is the media type of a structured-mode CloudEvent.
const ContentType = "application/cloudevents+json"

// attributes handled by dedicated event setters.
var contextAttributes = map[string]struct{}{
	message.AttrID:              {},
	message.AttrType:            {},
	message.AttrSource:          {},
	message.AttrSpecVersion:     {},
	message.AttrTime:            {},
	message.AttrSubject:         {},
	message.AttrDataContentType: {},
	message.AttrDeliveryCount:   {},
}

// ToEvent converts msg into a CloudEvent. Typed data is encoded with
// marshaler; []byte data is used as is.
func ToEvent(msg *message.Message, marshaler message.Marshaler) (*cloudevents.Event, error) {
	if msg == nil {
		return nil, errors.New("cloudevents: nil message")
	}

	e := cloudevents.NewEvent(message.SpecVersion)
	if v, ok := msg.Attributes.ID(); ok {
		e.SetID(v)
	}
	if v, ok := msg.Attributes.Type(); ok {
		e.SetType(v)
	}
	if v, ok := msg.Attributes.Source(); ok {
		e.SetSource(v)
	}
	if v, ok := msg.Attributes[message.AttrSubject].(string); ok && v != "" {
		e.SetSubject(v)
	}
	if v, ok := msg.Attributes[message.AttrTime].(string); ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("cloudevents: time attribute: %w", err)
		}
		e.SetTime(t)
	}

	for k, v := range msg.Attributes {
		if _, ok := contextAttributes[k]; ok {
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		e.SetExtension(k, v)
	}

	data, ct, err := encodeData(msg, marshaler)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := e.SetData(ct, data); err != nil {
			return nil, fmt.Errorf("cloudevents: set data: %w", err)
		}
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("cloudevents: %w", err)
	}
	return &e, nil
}

// FromEvent converts a CloudEvent into a message whose data is the raw
// event payload. The router decodes it into the handler input.
func FromEvent(e *cloudevents.Event) (*message.Message, error) {
	if e == nil {
		return nil, errors.New("cloudevents: nil event")
	}
	attrs := message.Attributes{
		message.AttrID:          e.ID(),
		message.AttrSpecVersion: e.SpecVersion(),
		message.AttrType:        e.Type(),
		message.AttrSource:      e.Source(),
	}
	if dct := e.DataContentType(); dct != "" {
		attrs[message.AttrDataContentType] = dct
	}
	if subj := e.Subject(); subj != "" {
		attrs[message.AttrSubject] = subj
	}
	if t := e.Time(); !t.IsZero() {
		attrs[message.AttrTime] = t.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range e.Extensions() {
		attrs[k] = fmt.Sprint(v)
	}

	var data json.RawMessage
	if b := e.Data(); len(b) > 0 {
		data = append(json.RawMessage(nil), b...)
	}
	return message.New(data, attrs), nil
}

// Marshal encodes msg as a structured-mode CloudEvent.
func Marshal(msg *message.Message, marshaler message.Marshaler) ([]byte, error) {
	e, err := ToEvent(msg, marshaler)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("cloudevents: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a structured-mode CloudEvent. Malformed input wraps
// message.ErrInvalidData.
func Unmarshal(b []byte) (*message.Message, error) {
	e := cloudevents.NewEvent()
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: cloudevent: %v", message.ErrInvalidData, err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: cloudevent: %v", message.ErrInvalidData, err)
	}
	return FromEvent(&e)
}

func encodeData(msg *message.Message, marshaler message.Marshaler) ([]byte, string, error) {
	ct, _ := msg.Attributes[message.AttrDataContentType].(string)
	switch d := msg.Data.(type) {
	case nil:
		return nil, ct, nil
	case []byte:
		return d, ct, nil
	case json.RawMessage:
		if ct == "" {
			ct = cloudevents.ApplicationJSON
		}
		return d, ct, nil
	}
	if marshaler == nil {
		marshaler = message.NewJSONMarshaler()
	}
	b, err := marshaler.Marshal(msg.Data)
	if err != nil {
		return nil, "", fmt.Errorf("cloudevents: encode %T: %w", msg.Data, err)
	}
	return b, marshaler.DataContentType(), nil
}
