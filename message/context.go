package message

import "context"

type contextKey string

const attributesKey contextKey = "message.attributes"

// ContextWithAttributes stores the attributes of the message being handled.
// The Dispatcher reads them to propagate correlation and causation.
func ContextWithAttributes(ctx context.Context, attrs Attributes) context.Context {
	return context.WithValue(ctx, attributesKey, attrs)
}

// AttributesFromContext retrieves message attributes from context.
// Returns nil if no attributes are present.
func AttributesFromContext(ctx context.Context) Attributes {
	attrs, _ := ctx.Value(attributesKey).(Attributes)
	return attrs
}
