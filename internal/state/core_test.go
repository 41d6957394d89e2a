package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	c := NewCore()
	require.Equal(t, Initializing, c.Process())

	c.SetRunning()
	require.Equal(t, Running, c.Process())

	c.EmergencyStop()
	require.Equal(t, EmergencyStopped, c.Process())
	require.True(t, c.Stopped())

	c.Halt()
	require.Equal(t, Halted, c.Process())
	// the flag survives the transition to Halted
	require.True(t, c.Stopped())
}

func TestEmergencyStopIsMonotonic(t *testing.T) {
	c := NewCore()
	c.EmergencyStop()

	// neither SetRunning nor EnterSafeMode may clear the flag
	c.SetRunning()
	c.EnterSafeMode()
	require.True(t, c.Stopped())
	require.Equal(t, EmergencyStopped, c.Process())
}

func TestStageFailuresPromoteToSafeMode(t *testing.T) {
	c := NewCore()

	for i := 1; i <= 2; i++ {
		n, exhausted := c.StageFailed(StageAPStart)
		require.Equal(t, i, n)
		require.False(t, exhausted)
	}
	n, exhausted := c.StageFailed(StageAPStart)
	require.Equal(t, 3, n)
	require.True(t, exhausted)

	c.EnterSafeMode()
	require.Equal(t, SafeMode, c.Process())
	require.False(t, c.Stopped(), "safe mode is not an emergency stop")
}

func TestStageSuccessResetsCounter(t *testing.T) {
	c := NewCore()
	c.StageFailed(StageWiFiConnect)
	c.StageFailed(StageWiFiConnect)
	c.StageSucceeded(StageWiFiConnect)
	require.Zero(t, c.Failures(StageWiFiConnect))

	// failures at one stage do not bleed into another
	c.StageFailed(StageSensorInit)
	require.Zero(t, c.Failures(StageWiFiConnect))
	require.Equal(t, 1, c.Failures(StageSensorInit))
}
