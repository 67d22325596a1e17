package main

import (
	"context"

	"github.com/hrygo/dbgtoolsrv/internal/audit"
	"github.com/hrygo/dbgtoolsrv/internal/queue"
)

// queueEventSink is the single queue.EventSink the dispatcher is built
// with. It fans each event out to the notification sink (C8) and, for
// terminal states, to the audit trail (C10) — the queue itself only
// knows about one sink, so this is where the two independent
// consumers of its lifecycle events join.
type queueEventSink struct {
	notify     func(event string, detail map[string]any)
	dispatcher *queue.Manager
	trail      *audit.Trail
	sessionID  func() string
}

func (s *queueEventSink) Notify(event string, detail map[string]any) {
	if s.notify != nil {
		s.notify(event, detail)
	}

	if s.trail == nil {
		return
	}
	switch event {
	case "completed", "failed", "cancelled":
		s.recordAudit(event, detail)
	}
}

func (s *queueEventSink) recordAudit(event string, detail map[string]any) {
	id, _ := detail["id"].(string)
	if id == "" {
		return
	}
	status, ok := s.dispatcher.Status(id)
	if !ok {
		return
	}

	rec := audit.Record{
		ID:        id,
		SessionID: s.sessionID(),
		Text:      status.Text,
		State:     event,
		QueuedAt:  status.QueuedAt,
	}
	if result, err := s.dispatcher.GetResult(context.Background(), id); err == nil {
		rec.ResultExcerpt = result
	} else if errMsg, ok := detail["error"].(string); ok {
		rec.Error = errMsg
	}
	s.trail.Record(rec)
}
