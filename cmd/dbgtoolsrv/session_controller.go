package main

import (
	"context"

	"github.com/hrygo/dbgtoolsrv/internal/dbgsession"
)

// targetTrackingSession wraps C1's session so that every successful
// Start is mirrored into the recovery orchestrator: a forced restart
// needs to know which dump or remote connection to reopen, but C1
// itself has no notion of C4.
type targetTrackingSession struct {
	*dbgsession.Session
	onStart func(dbgsession.Target)
}

func (s *targetTrackingSession) Start(ctx context.Context, target dbgsession.Target) error {
	if err := s.Session.Start(ctx, target); err != nil {
		return err
	}
	if s.onStart != nil {
		s.onStart(target)
	}
	return nil
}
