package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	c := Defaults()
	c.Mode = "staging"
	require.Error(t, c.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := Defaults()
	c.Port = 0
	require.Error(t, c.Validate())

	c.Port = 70000
	require.Error(t, c.Validate())
}

func TestValidateRejectsShortExtendedTimeout(t *testing.T) {
	c := Defaults()
	c.ExtendedTimeout = c.DefaultTimeout - 1
	require.Error(t, c.Validate())
}

func TestValidateRejectsOutOfRangeRatios(t *testing.T) {
	c := Defaults()
	c.CachePressureThreshold = 1.2
	require.Error(t, c.Validate())

	c = Defaults()
	c.CachePostCleanupTarget = 0
	require.Error(t, c.Validate())
}

func TestFromEnvOverridesDataDirAndDebuggerPath(t *testing.T) {
	t.Setenv("DBGTOOLSRV_DATA", "/tmp/dbgdata")
	t.Setenv("DBGTOOLSRV_DEBUGGER_PATH", "/custom/cdb.exe")

	c := Defaults()
	c.FromEnv()
	require.Equal(t, "/tmp/dbgdata", c.DataDir)
	require.Equal(t, "/custom/cdb.exe", c.DebuggerPath)
}

func TestIsDev(t *testing.T) {
	c := Defaults()
	require.True(t, c.IsDev())
	c.Mode = "prod"
	require.False(t, c.IsDev())
}
