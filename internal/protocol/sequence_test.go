package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeqTrackerNormalOperation(t *testing.T) {
	tr := NewSeqTracker(65536, 1000)

	loss, reset := tr.Observe(40)
	require.Zero(t, loss)
	require.False(t, reset)

	// 40 -> 41 is the expected step: no loss, no reset
	loss, reset = tr.Observe(41)
	require.Zero(t, loss)
	require.False(t, reset)
}

func TestSeqTrackerLoss(t *testing.T) {
	tr := NewSeqTracker(65536, 1000)
	tr.Observe(100)

	loss, reset := tr.Observe(104)
	require.Equal(t, 3, loss)
	require.False(t, reset)
}

func TestSeqTrackerWrapAround(t *testing.T) {
	tr := NewSeqTracker(65536, 1000)
	tr.Observe(65535)

	loss, reset := tr.Observe(0)
	require.Zero(t, loss)
	require.False(t, reset)

	tr.Observe(65534)
	loss, reset = tr.Observe(2)
	require.Equal(t, 3, loss)
	require.False(t, reset)
}

func TestSeqTrackerReset(t *testing.T) {
	tr := NewSeqTracker(65536, 1000)
	tr.Observe(40000)

	// a gap at the sanity bound is a stream reset, not loss
	loss, reset := tr.Observe(41001)
	require.Zero(t, loss)
	require.True(t, reset)

	// node restarted from zero: also a reset
	tr.Observe(40000)
	loss, reset = tr.Observe(0)
	require.Zero(t, loss)
	require.True(t, reset)
}

func TestSeqTrackerConfigurableSpace(t *testing.T) {
	tr := NewSeqTracker(256, 16)
	tr.Observe(255)

	loss, reset := tr.Observe(4)
	require.Equal(t, 4, loss)
	require.False(t, reset)

	loss, reset = tr.Observe(30)
	require.Zero(t, loss)
	require.True(t, reset)
}

func TestSeqTrackerExplicitReset(t *testing.T) {
	tr := NewSeqTracker(65536, 1000)
	tr.Observe(500)
	tr.Reset()

	loss, reset := tr.Observe(9000)
	require.Zero(t, loss)
	require.False(t, reset)
}
