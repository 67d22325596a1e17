package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	active   bool
	execErr  error
	execCall int
}

func (f *fakeSession) IsActive() bool { return f.active }

func (f *fakeSession) Execute(_ context.Context, _ string, _ <-chan struct{}) (string, error) {
	f.execCall++
	return "", f.execErr
}

func TestIsHealthyReflectsSessionActive(t *testing.T) {
	sess := &fakeSession{active: true}
	m := New(sess)
	require.True(t, m.IsHealthy())

	sess.active = false
	// cached for 30s — still reports healthy until cache expires.
	require.True(t, m.IsHealthy())
}

func TestIsHealthyNilSessionIsFalse(t *testing.T) {
	m := New(nil)
	require.False(t, m.IsHealthy())
}

func TestIsResponsiveRequiresHealthyAndProbeSuccess(t *testing.T) {
	sess := &fakeSession{active: true}
	m := New(sess)
	require.True(t, m.IsResponsive(context.Background()))
	require.Equal(t, 1, sess.execCall)
}

func TestIsResponsiveFalseOnProbeError(t *testing.T) {
	sess := &fakeSession{active: true, execErr: errors.New("debugger wedged")}
	m := New(sess)
	require.False(t, m.IsResponsive(context.Background()))
}

func TestIsResponsiveFalseWhenUnhealthy(t *testing.T) {
	sess := &fakeSession{active: false}
	m := New(sess)
	require.False(t, m.IsResponsive(context.Background()))
	require.Equal(t, 0, sess.execCall)
}

func TestDiagnosticsSnapshot(t *testing.T) {
	sess := &fakeSession{active: true}
	m := New(sess)
	m.IsHealthy()

	d := m.Diagnostics()
	require.True(t, d.Active)
	require.False(t, d.LastCheck.IsZero())
	require.Less(t, d.TimeSinceCheck, time.Second)
}

func TestIsCheckDueBeforeAnyCheck(t *testing.T) {
	m := New(&fakeSession{active: true})
	require.True(t, m.IsCheckDue())
}
