package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(path, 16, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })
	return trail
}

func TestRecordThenQueryRoundTrips(t *testing.T) {
	trail := newTestTrail(t)

	trail.Record(Record{
		ID: "cmd-1", SessionID: "sess-1", Text: "!analyze -v", State: "completed",
		QueuedAt: time.Now(), CompletedAt: time.Now(), ResultExcerpt: "rax=0",
	})

	require.Eventually(t, func() bool {
		rows, err := trail.Query(context.Background(), Filter{SessionID: "sess-1"})
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)

	rows, err := trail.Query(context.Background(), Filter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "cmd-1", rows[0].ID)
	require.Equal(t, "rax=0", rows[0].ResultExcerpt)
}

func TestQueryFiltersByState(t *testing.T) {
	trail := newTestTrail(t)

	trail.Record(Record{ID: "a", SessionID: "s", Text: "x", State: "completed", QueuedAt: time.Now()})
	trail.Record(Record{ID: "b", SessionID: "s", Text: "y", State: "failed", QueuedAt: time.Now()})

	require.Eventually(t, func() bool {
		rows, err := trail.Query(context.Background(), Filter{SessionID: "s"})
		return err == nil && len(rows) == 2
	}, time.Second, 5*time.Millisecond)

	rows, err := trail.Query(context.Background(), Filter{SessionID: "s", State: "failed"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "b", rows[0].ID)
}

func TestQueryRespectsLimit(t *testing.T) {
	trail := newTestTrail(t)
	for i := 0; i < 5; i++ {
		trail.Record(Record{ID: string(rune('a' + i)), SessionID: "s", Text: "cmd", State: "completed", QueuedAt: time.Now()})
	}

	require.Eventually(t, func() bool {
		rows, err := trail.Query(context.Background(), Filter{SessionID: "s"})
		return err == nil && len(rows) == 5
	}, time.Second, 5*time.Millisecond)

	rows, err := trail.Query(context.Background(), Filter{SessionID: "s", Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestResultExcerptIsTruncated(t *testing.T) {
	trail := newTestTrail(t)
	long := make([]byte, maxResultExcerptBytes+1000)
	for i := range long {
		long[i] = 'x'
	}

	trail.Record(Record{ID: "big", SessionID: "s", Text: "x", State: "completed", QueuedAt: time.Now(), ResultExcerpt: string(long)})

	require.Eventually(t, func() bool {
		rows, err := trail.Query(context.Background(), Filter{SessionID: "s"})
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)

	rows, err := trail.Query(context.Background(), Filter{SessionID: "s"})
	require.NoError(t, err)
	require.LessOrEqual(t, len(rows[0].ResultExcerpt), maxResultExcerptBytes)
}

func TestCloseDrainsPendingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	trail, err := Open(path, 16, nil)
	require.NoError(t, err)

	trail.Record(Record{ID: "last", SessionID: "s", Text: "x", State: "completed", QueuedAt: time.Now()})
	require.NoError(t, trail.Close())

	trail2, err := Open(path, 16, nil)
	require.NoError(t, err)
	defer trail2.Close()

	rows, err := trail2.Query(context.Background(), Filter{SessionID: "s"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
