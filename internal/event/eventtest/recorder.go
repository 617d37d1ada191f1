// Package eventtest provides a synchronous Publisher for tests.
package eventtest

import (
	"sync"

	"anoa.com/refurnish/internal/event"
)

type Recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything published so far, in order.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(t event.Type) []event.Event {
	var out []event.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Count(t event.Type) int {
	return len(r.OfType(t))
}

func (r *Recorder) Types() []event.Type {
	events := r.Events()
	out := make([]event.Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ event.Publisher = (*Recorder)(nil)
