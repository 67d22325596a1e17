package resultcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c := New(cfg, nil)
	t.Cleanup(c.Close)
	return c
}

func TestSetThenGetReturnsSameValue(t *testing.T) {
	c := newTestCache(t, Config{CleanupInterval: time.Hour})
	c.Set("k", "v", time.Minute)

	v, ok := c.TryGet("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestGetMissOnUnknownKey(t *testing.T) {
	c := newTestCache(t, Config{CleanupInterval: time.Hour})
	_, ok := c.TryGet("nope")
	require.False(t, ok)
}

func TestExpiredEntryIsRemovedOnGet(t *testing.T) {
	c := newTestCache(t, Config{CleanupInterval: time.Hour})
	c.Set("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.TryGet("k")
	require.False(t, ok)
	require.False(t, c.Contains("k"))
}

func TestHitMissRatioMatchesSpecExample(t *testing.T) {
	c := newTestCache(t, Config{CleanupInterval: time.Hour})
	c.TryGet("x")
	c.TryGet("x")
	c.TryGet("x")
	c.Set("x", "v", time.Minute)
	c.TryGet("x")
	c.TryGet("x")

	stats := c.Statistics()
	require.InDelta(t, 0.4, stats.HitRatio, 0.0001)
}

func TestPressureEvictionKeepsMostRecentlyAccessed(t *testing.T) {
	c := newTestCache(t, Config{
		MaxMemoryBytes:         1_000_000,
		PressureThreshold:      0.8,
		PostCleanupTargetRatio: 0.6,
		CleanupInterval:        time.Hour,
		DefaultTTL:             time.Hour,
	})

	// 150,000 bytes each => 75,000 rune string (2 bytes/rune estimate).
	value := make([]rune, 75_000)
	for i := range value {
		value[i] = 'a'
	}
	text := string(value)

	keys := make([]string, 10)
	for i := 0; i < 10; i++ {
		keys[i] = "k" + string(rune('0'+i))
		c.Set(keys[i], text, time.Hour)
		// stagger last-accessed so eviction order is deterministic
		time.Sleep(time.Millisecond)
	}

	require.LessOrEqual(t, c.Count(), 4)
	// the most recently inserted/accessed keys should have survived
	for _, k := range keys[len(keys)-4:] {
		require.True(t, c.Contains(k), "expected %s to survive eviction", k)
	}
}

func TestRemoveAndClear(t *testing.T) {
	c := newTestCache(t, Config{CleanupInterval: time.Hour})
	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)

	require.True(t, c.Remove("a"))
	require.False(t, c.Remove("a"))
	require.Equal(t, 1, c.Count())

	c.Clear()
	require.Equal(t, 0, c.Count())
}

func TestBackgroundCleanupSweepsExpiredEntries(t *testing.T) {
	c := New(Config{CleanupInterval: 5 * time.Millisecond}, nil)
	defer c.Close()

	c.Set("k", "v", time.Millisecond)
	require.Eventually(t, func() bool {
		return c.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestFingerprintIsDeterministicAndDistinguishesSessions(t *testing.T) {
	a := Fingerprint("session-1", "!analyze -v")
	b := Fingerprint("session-1", "!analyze -v")
	c := Fingerprint("session-2", "!analyze -v")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64) // blake2b-256 hex encoding
}
