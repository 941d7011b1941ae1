// Package bustest provides a recording message.Bus for tests.
package bustest

import (
	"context"
	"sync"

	"github.com/fxsml/privatesocial/message"
)

// Sent is a command recorded by Recorder.Send.
type Sent struct {
	Queue   string
	Command any
}

// Recorder implements message.Bus by recording every call.
//
// PublishHook and SendHook, when set, run before recording; a non-nil
// error is returned to the caller and the call is not recorded.
type Recorder struct {
	PublishHook func(ctx context.Context, event any) error
	SendHook    func(ctx context.Context, queue string, command any) error

	mu        sync.Mutex
	published []any
	sent      []Sent
}

var _ message.Bus = (*Recorder)(nil)

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{}
}

// Publish records event.
func (r *Recorder) Publish(ctx context.Context, event any) error {
	if r.PublishHook != nil {
		if err := r.PublishHook(ctx, event); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, event)
	return nil
}

// Send records command for queue. The queue prefix is kept as given.
func (r *Recorder) Send(ctx context.Context, queue string, command any) error {
	if r.SendHook != nil {
		if err := r.SendHook(ctx, queue, command); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Queue: queue, Command: command})
	return nil
}

// Published returns the recorded events in order.
func (r *Recorder) Published() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.published...)
}

// Sent returns the recorded commands in order.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = nil
	r.sent = nil
}

// PublishedOf returns the recorded events of type T.
func PublishedOf[T any](r *Recorder) []T {
	var out []T
	for _, e := range r.Published() {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// SentTo returns the commands of type T recorded for queue.
func SentTo[T any](r *Recorder, queue string) []T {
	var out []T
	for _, s := range r.Sent() {
		if s.Queue != queue {
			continue
		}
		if v, ok := s.Command.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
