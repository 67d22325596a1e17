// Package notify implements C8, the notification sink boundary: an
// abstract publisher for command lifecycle events, plus concrete
// implementations. Publication is always best-effort — failures are
// logged and swallowed, never surfaced to the hard core.
package notify

import "context"

// Event is one of the kinds spec §4.8 defines.
type Event string

const (
	EventQueued    Event = "queued"
	EventExecuting Event = "executing"
	EventHeartbeat Event = "heartbeat"
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
	EventRecovery  Event = "recovery"
)

// Sink is the abstract publisher boundary. Detail is a free-form map
// carried per event kind (e.g. {"elapsed": ..., "result": ...} for
// completed, {"reason":..., "step":..., "success":...} for recovery).
type Sink interface {
	Notify(ctx context.Context, event Event, commandID string, detail map[string]any)
}

// Fanout publishes to every configured sink, best-effort, concurrently
// fire-and-forget relative to one another is NOT done here — publish
// order matches registration order, each call is still synchronous so
// a slow sink cannot be starved silently; callers wanting async
// delivery wrap a Sink with their own queue.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a Fanout over the given sinks, skipping nils.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Notify(ctx context.Context, event Event, commandID string, detail map[string]any) {
	for _, s := range f.sinks {
		s.Notify(ctx, event, commandID, detail)
	}
}
