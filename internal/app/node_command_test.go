package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/mocap_pipeline/internal/logging"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

type fakeStream struct {
	running  bool
	startErr error
	starts   int
	stops    int
}

func (f *fakeStream) Running() bool { return f.running }

func (f *fakeStream) Start() (bool, error) {
	if f.startErr != nil {
		return false, f.startErr
	}
	if f.running {
		return false, nil
	}
	f.running = true
	f.starts++
	return true, nil
}

func (f *fakeStream) Stop() bool {
	if !f.running {
		return false
	}
	f.running = false
	f.stops++
	return true
}

type fakeBank struct {
	statuses []string
	initErr  error
	inits    int
}

func (f *fakeBank) Statuses() []string { return f.statuses }

func (f *fakeBank) InitAll() (int, error) {
	f.inits++
	if f.initErr != nil {
		return 0, f.initErr
	}
	return 8, nil
}

func newTestServer() (*commandServer, *fakeStream, *fakeBank, *state.Core) {
	core := state.NewCore()
	stream := &fakeStream{}
	bank := &fakeBank{statuses: []string{"Sensor 0 (Right Lower Leg): Connected, Calibration: 100"}}
	s := &commandServer{
		core:    core,
		stream:  stream,
		sensors: bank,
		wd:      watchdog.Nop(),
		restart: func() {},
	}
	return s, stream, bank, core
}

func dispatchLetter(t *testing.T, s *commandServer, line string) (protocol.Reply, bool) {
	t.Helper()
	return s.execute(line)
}

func TestDispatchPing(t *testing.T) {
	s, _, _, _ := newTestServer()
	reply, restart := dispatchLetter(t, s, "P")
	require.False(t, restart)
	require.Equal(t, "OK:PONG", reply.Encode())
}

func TestDispatchRestartRequestsReboot(t *testing.T) {
	s, _, _, _ := newTestServer()
	reply, restart := dispatchLetter(t, s, "N")
	require.True(t, restart)
	require.Equal(t, "OK:Restarting node...", reply.Encode())
}

func TestDispatchCheckSensorsJoinsStatuses(t *testing.T) {
	s, _, bank, _ := newTestServer()
	bank.statuses = []string{"a", "b", "c"}
	reply, _ := dispatchLetter(t, s, "C")
	require.True(t, reply.OK)
	require.Equal(t, "a | b | c", reply.Message)
}

func TestDispatchStartStopStream(t *testing.T) {
	s, stream, _, _ := newTestServer()

	reply, _ := dispatchLetter(t, s, "S")
	require.Equal(t, "OK:Sensor reading started.", reply.Encode())
	require.True(t, stream.running)

	reply, _ = dispatchLetter(t, s, "X")
	require.Equal(t, "OK:Sensor reading stopped.", reply.Encode())
	require.False(t, stream.running)

	reply, _ = dispatchLetter(t, s, "X")
	require.Equal(t, "OK:Sensor reading not running.", reply.Encode())
}

func TestDispatchStartStreamFailure(t *testing.T) {
	s, stream, _, _ := newTestServer()
	stream.startErr = errors.New("socket exploded")

	reply, _ := dispatchLetter(t, s, "S")
	require.False(t, reply.OK)
	require.Contains(t, reply.Message, "ERROR starting sensor reading")
}

func TestStreamingGateRejectsMostCommands(t *testing.T) {
	s, stream, bank, _ := newTestServer()
	stream.running = true

	for _, line := range []string{"C", "I", "S", "N", "D:0"} {
		reply, restart := dispatchLetter(t, s, line)
		require.False(t, restart, line)
		require.False(t, reply.OK, line)
		require.Contains(t, reply.Message, "while streaming", line)
	}
	require.Zero(t, bank.inits, "gated commands must not touch the sensors")
	require.True(t, stream.running, "gated commands must not affect streaming")

	// ping stays available while streaming
	reply, _ := dispatchLetter(t, s, "P")
	require.Equal(t, "OK:PONG", reply.Encode())
}

func TestDispatchEmergencyStop(t *testing.T) {
	s, stream, _, core := newTestServer()
	stream.running = true

	reply, restart := dispatchLetter(t, s, "Q")
	require.False(t, restart)
	require.Equal(t, "OK:Emergency stop activated. Stopping all threads.", reply.Encode())
	require.True(t, core.Stopped())
	require.False(t, stream.running)
}

func TestDispatchReinitRestartsStreamingWhenActive(t *testing.T) {
	s, stream, bank, _ := newTestServer()

	// not streaming: reinit leaves streaming off
	reply, _ := dispatchLetter(t, s, "I")
	require.Equal(t, "OK:Sensors reinitialized. Success: true", reply.Encode())
	require.Equal(t, 1, bank.inits)
	require.False(t, stream.running)

	// streaming case is gated at the dispatcher, so exercise the path directly
	stream.running = false
	bank.initErr = errors.New("bus down")
	reply, _ = dispatchLetter(t, s, "I")
	require.False(t, reply.OK)
	require.Equal(t, "ERROR:Sensors reinitialized. Success: false", reply.Encode())
}

func TestDispatchLogLevel(t *testing.T) {
	logging.SetThreshold(logging.LevelInfo)
	s, _, _, _ := newTestServer()

	reply, _ := dispatchLetter(t, s, "D:2")
	require.Equal(t, "OK:Log level set to WARNING", reply.Encode())
	require.Equal(t, logging.LevelWarning, logging.Threshold())

	reply, _ = dispatchLetter(t, s, "D")
	require.Equal(t, "OK:Current log level: WARNING", reply.Encode())

	reply, _ = dispatchLetter(t, s, "D:7")
	require.Equal(t, "ERROR:Invalid log level: 7. Must be 0-3.", reply.Encode())

	logging.SetThreshold(logging.LevelInfo)
}

func TestDispatchUnknownCommand(t *testing.T) {
	s, _, _, _ := newTestServer()
	reply, restart := dispatchLetter(t, s, "Z")
	require.False(t, restart)
	require.False(t, reply.OK)
	require.Contains(t, reply.Message, "Unknown command")
}

func TestSafeModeOnlyAcceptsRestart(t *testing.T) {
	s, _, _, core := newTestServer()
	core.EnterSafeMode()

	reply, restart := dispatchLetter(t, s, "P")
	require.False(t, restart)
	require.False(t, reply.OK)
	require.Contains(t, reply.Message, "safe mode")

	reply, restart = dispatchLetter(t, s, "N")
	require.True(t, restart)
	require.True(t, reply.OK)
}
