package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

func newTestControlServer() (*controlServer, *rwcBuffer) {
	buf := &rwcBuffer{}
	return &controlServer{
		core: state.NewCore(),
		hl:   newHostLink(buf),
		wd:   watchdog.Nop(),
	}, buf
}

func feedLine(s *controlServer, line string) {
	s.consume(protocol.Classify(line), line)
}

func TestConsumeHeartbeatUpdatesLiveness(t *testing.T) {
	s, buf := newTestControlServer()

	before := time.Now()
	feedLine(s, "HEARTBEAT:6/8:123456")

	hb, at := s.LastHeartbeat()
	require.Equal(t, 6, hb.Active)
	require.Equal(t, 8, hb.Total)
	require.Equal(t, uint64(123456), hb.FreeMem)
	require.False(t, at.Before(before))
	// heartbeats are bookkeeping, not host traffic
	require.Empty(t, buf.String())
}

func TestConsumeForwardsNodeLogsVerbatim(t *testing.T) {
	s, buf := newTestControlServer()

	feedLine(s, "LOG:[NODE] [2026-08-23 10:00:00] [WARNING] sensor 3 gone")
	require.Equal(t, "LOG:[NODE] [2026-08-23 10:00:00] [WARNING] sensor 3 gone\n", buf.String())
}

func TestConsumeWrapsCommandResponses(t *testing.T) {
	s, buf := newTestControlServer()

	feedLine(s, "OK:PONG")
	require.Equal(t, "LOG:[NODE] Command response: OK:PONG\n", buf.String())

	buf.Reset()
	feedLine(s, "something freeform")
	require.Equal(t, "LOG:[NODE] Command response: something freeform\n", buf.String())
}

func TestConsumeHelloIsQuietOnHostLink(t *testing.T) {
	s, buf := newTestControlServer()
	feedLine(s, "NODE_CONNECTED:v1.0")
	require.Empty(t, buf.String())

	_, at := s.LastHeartbeat()
	require.True(t, at.IsZero())
}
