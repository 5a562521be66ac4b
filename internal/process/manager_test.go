package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir())

	require.NoError(t, m.WritePID())
	assert.Equal(t, os.Getpid(), m.ReadPID())

	// The current process obviously exists.
	assert.True(t, m.IsRunning())

	m.CleanupPID()
	assert.Equal(t, 0, m.ReadPID())
	assert.False(t, m.IsRunning())
}

func TestReadPIDMissingOrGarbage(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(dir)
	assert.Equal(t, 0, m.ReadPID())

	require.NoError(t, os.WriteFile(m.pidFile, []byte("not-a-pid"), 0600))
	assert.Equal(t, 0, m.ReadPID())
}

func TestIsRunningStalePID(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(dir)
	require.NoError(t, os.WriteFile(m.pidFile, []byte("999999999"), 0600))

	// A dead PID is detected and the stale file removed.
	assert.False(t, m.IsRunning())
	assert.Equal(t, 0, m.ReadPID())
}

func TestStopWithoutProcess(t *testing.T) {
	m := NewManager(t.TempDir())
	assert.NoError(t, m.Stop())
}
