package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordDispatchExposedViaHandler(t *testing.T) {
	e := New(DefaultConfig())
	e.RecordDispatch("completed", 250*time.Millisecond)
	e.RecordCacheHit()
	e.RecordCacheMiss()
	e.RecordRecoveryAttempt("recovered")
	e.SetQueueDepth(3)
	e.SetCacheBytesInUse(1024)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "dbgtoolsrv_queue_dispatch_total")
	require.Contains(t, body, "dbgtoolsrv_cache_hits_total 1")
	require.Contains(t, body, "dbgtoolsrv_queue_depth 3")
}

func TestDoubleRegisterSameRegistryPanics(t *testing.T) {
	e := New(DefaultConfig())
	require.Panics(t, func() {
		New(Config{Registry: e.Registry()})
	})
}
