package notify

import "context"

// QueueAdapter implements the C5 dispatcher's EventSink interface
// (Notify(event string, detail map[string]any)) over a C8 Sink, so
// notify implementations stay the single publication boundary rather
// than every upstream component depending directly on notify.Event's
// string values.
type QueueAdapter struct {
	sink Sink
}

// NewQueueAdapter wraps sink for use as a queue.EventSink.
func NewQueueAdapter(sink Sink) *QueueAdapter {
	return &QueueAdapter{sink: sink}
}

func (a *QueueAdapter) Notify(event string, detail map[string]any) {
	commandID, _ := detail["id"].(string)
	a.sink.Notify(context.Background(), Event(event), commandID, detail)
}
