package app

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
	"github.com/relabs-tech/mocap_pipeline/internal/state"
	"github.com/relabs-tech/mocap_pipeline/internal/watchdog"
)

func TestConsumerRelaysConsecutiveFrames(t *testing.T) {
	buf := &rwcBuffer{}
	c := &consumer{
		core:    state.NewCore(),
		hl:      newHostLink(buf),
		wd:      watchdog.Nop(),
		tracker: protocol.NewSeqTracker(65536, 1000),
	}

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	stop := make(chan struct{})
	done := make(chan struct{})
	go c.loop(pc, stop, done)

	sender, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	f40 := protocol.StreamFrame{Seq: 40}.Encode()
	f41 := protocol.StreamFrame{Seq: 41}.Encode()
	_, err = sender.Write([]byte(f40))
	require.NoError(t, err)
	_, err = sender.Write([]byte(f41))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Packets() == 2 },
		2*time.Second, 10*time.Millisecond)
	close(stop)
	<-done

	// 41 after 40 is zero loss: both frames reach the host in order,
	// each behind the stream prefix
	require.Equal(t, "DATA:"+f40+"\nDATA:"+f41+"\n", buf.String())
}
