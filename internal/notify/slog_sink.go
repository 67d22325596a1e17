package notify

import (
	"context"

	"github.com/hrygo/dbgtoolsrv/internal/logging"
)

// SlogSink publishes every event as a structured log line. Always
// available, always succeeds — the fallback sink when no external
// notification channel is configured.
type SlogSink struct {
	log *logging.Logger
}

// NewSlogSink builds a SlogSink; log may be nil to use the package default.
func NewSlogSink(log *logging.Logger) *SlogSink {
	if log == nil {
		log = logging.Default()
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) Notify(_ context.Context, event Event, commandID string, detail map[string]any) {
	args := make([]any, 0, 2+2*len(detail))
	args = append(args, "event", string(event), "command_id", commandID)
	for k, v := range detail {
		args = append(args, k, v)
	}
	s.log.Info("command event", args...)
}
