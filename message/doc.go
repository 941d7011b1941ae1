// Package message provides CloudEvents-aligned message handling with
// type-based routing for the onboarding worker.
//
// The package centers around three pieces:
//
//   - [Bus] is the only dependency of domain code. It offers Publish
//     (broadcast an event to every endpoint bound to its type) and Send
//     (deliver a command to one named queue).
//   - [Dispatcher] implements Bus on top of a [Transport], stamping every
//     outgoing message with id, type, source, time and correlation attributes.
//   - [Engine] subscribes one [Router] per endpoint to the transport. A router
//     runs a pool of workers (competing consumers) and dispatches each message
//     to the [Handler] registered for its type.
//
// # Quick Start
//
//	engine := message.NewEngine(transport, message.EngineConfig{
//		Marshaler: message.NewJSONMarshaler(),
//	})
//
//	handler := message.NewHandler(
//		func(ctx context.Context, evt contracts.PostCreated) error {
//			return bus.Send(ctx, contracts.QueueModeratePostContent, ...)
//		},
//		message.KebabNaming,
//	)
//	_ = engine.AddEndpoint(message.EndpointConfig{Name: "post-created", Concurrency: 4}, handler)
//
//	done, _ := engine.Start(ctx)
//
// # Acknowledgment
//
// Routers ack a message when its handler returns nil and nack it with the
// handler error otherwise. What a nack means is up to the transport: the
// in-memory broker redelivers with backoff, RabbitMQ requeues. Errors matching
// [ErrNoHandler] or [ErrInvalidData] are permanent and are never redelivered.
//
// # Subpackages
//
// broker: in-memory transport with redelivery and dead-lettering
//
// amqp: RabbitMQ transport
//
// cloudevents: CloudEvents structured JSON codec
//
// middleware: correlation, deadline, recovery, logging, metrics, idempotency
//
// bustest: recording Bus for tests
package message
