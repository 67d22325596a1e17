package main

import "github.com/hrygo/dbgtoolsrv/internal/queue"

// dispatcherHolder breaks the construction cycle between C5 (queue,
// which needs an Executor) and C4 (recovery, which needs a Dispatcher
// to cancel in-flight commands): the recovery orchestrator is built
// against the holder before the queue.Manager it will eventually
// forward to exists, then bind fills it in once both are constructed.
type dispatcherHolder struct {
	mgr *queue.Manager
}

func (h *dispatcherHolder) bind(mgr *queue.Manager) { h.mgr = mgr }

func (h *dispatcherHolder) CancelAll(reason string) int {
	if h.mgr == nil {
		return 0
	}
	return h.mgr.CancelAll(reason)
}
