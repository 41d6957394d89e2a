package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// rwcBuffer is an in-memory stand-in for the serial port.
type rwcBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *rwcBuffer) Close() error { b.closed = true; return nil }

func TestHostLinkFraming(t *testing.T) {
	buf := &rwcBuffer{}
	hl := newHostLink(buf)

	require.NoError(t, hl.WriteLog("[NODE] [2026-08-23 10:00:00] boot"))
	require.NoError(t, hl.WriteData("SEQ:7,S0:[1.0000,0.0000,0.0000,0.0000]"))
	hl.ForwardLog("[RECEIVER] [2026-08-23 10:00:01] ready")

	require.Equal(t,
		"LOG:[NODE] [2026-08-23 10:00:00] boot\n"+
			"DATA:SEQ:7,S0:[1.0000,0.0000,0.0000,0.0000]\n"+
			"LOG:[RECEIVER] [2026-08-23 10:00:01] ready\n",
		buf.String())
}

func TestHostLinkClose(t *testing.T) {
	buf := &rwcBuffer{}
	hl := newHostLink(buf)
	require.NoError(t, hl.Close())
	require.True(t, buf.closed)
}
