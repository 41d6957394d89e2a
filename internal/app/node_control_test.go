package app

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/mocap_pipeline/internal/sensors"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

// recordedConn is a connection handle that only remembers being closed.
type recordedConn struct {
	net.Conn
	closed *bool
}

func (r recordedConn) Close() error { *r.closed = true; return nil }

func TestControlClientClosesReplacedConn(t *testing.T) {
	c := &controlClient{}

	var closedA, closedB bool
	a := recordedConn{closed: &closedA}
	b := recordedConn{closed: &closedB}

	c.setConn(a)
	require.False(t, closedA)

	c.setConn(b)
	require.True(t, closedA)
	require.False(t, closedB)

	// tearing down a handle that was already replaced must not drop
	// the current one
	c.teardown(a)
	require.False(t, closedB)

	c.teardown(b)
	require.True(t, closedB)
	require.Error(t, c.send("x"))
}

func TestControlClientHelloThenBackoffBetweenDials(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepts := make(chan time.Time, 8)
	firstLine := make(chan string, 1)
	go func() {
		for i := 0; ; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepts <- time.Now()
			if i == 0 {
				buf := make([]byte, 128)
				n, _ := conn.Read(buf)
				firstLine <- strings.TrimSpace(string(buf[:n]))
			}
			conn.Close()
		}
	}()

	c := &controlClient{
		core:           state.NewCore(),
		array:          sensors.NewArray(nil, nil, nil, func() {}),
		wd:             watchdog.Nop(),
		addr:           ln.Addr().String(),
		heartbeatEvery: 50 * time.Millisecond,
		reconnectWait:  300 * time.Millisecond,
	}
	c.Start()
	defer c.Shutdown()

	var first, second time.Time
	select {
	case first = <-accepts:
	case <-time.After(2 * time.Second):
		t.Fatal("node never dialed the receiver")
	}

	select {
	case line := <-firstLine:
		require.Equal(t, "NODE_CONNECTED:v1.0", line)
	case <-time.After(2 * time.Second):
		t.Fatal("connection announcement never arrived")
	}

	// the receiver dropped the link; exactly one reconnection attempt
	// per backoff interval, so the next dial cannot come early
	select {
	case second = <-accepts:
	case <-time.After(5 * time.Second):
		t.Fatal("node never reconnected")
	}
	require.GreaterOrEqual(t, second.Sub(first), c.reconnectWait)
}
