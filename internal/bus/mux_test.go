package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// fakeBus records transactions and fails on demand.
type fakeBus struct {
	writes    [][]byte
	addrs     []uint16
	failNext  int
	failReads bool
	present   map[uint16]bool
	closed    bool
}

func (f *fakeBus) String() string { return "fake" }

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if f.failNext > 0 {
		f.failNext--
		return errors.New("bus stuck")
	}
	if f.failReads && len(w) == 0 {
		return errors.New("no ack")
	}
	if f.present != nil && !f.present[addr] {
		return errors.New("no ack")
	}
	if len(w) > 0 {
		f.addrs = append(f.addrs, addr)
		f.writes = append(f.writes, append([]byte(nil), w...))
	}
	return nil
}

func (f *fakeBus) SetSpeed(physic.Frequency) error { return nil }
func (f *fakeBus) Close() error                    { f.closed = true; return nil }

func newTestMux(t *testing.T, fb *fakeBus) *Mux {
	t.Helper()
	m, err := NewMux(func() (i2c.BusCloser, error) { return fb, nil }, 0x70, 0, "SCL", "SDA")
	require.NoError(t, err)
	return m
}

func TestSelectWritesChannelBit(t *testing.T) {
	fb := &fakeBus{}
	m := newTestMux(t, fb)

	for ch := 0; ch < Channels; ch++ {
		require.NoError(t, m.Select(ch))
		require.Equal(t, []byte{1 << ch}, fb.writes[ch])
		require.Equal(t, uint16(0x70), fb.addrs[ch])
	}
}

func TestSelectRejectsBadChannel(t *testing.T) {
	m := newTestMux(t, &fakeBus{})
	require.Error(t, m.Select(-1))
	require.Error(t, m.Select(Channels))
}

func TestSelectRetriesOnce(t *testing.T) {
	fb := &fakeBus{failNext: 1}
	m := newTestMux(t, fb)

	require.NoError(t, m.Select(2))
	require.Equal(t, [][]byte{{1 << 2}}, fb.writes)

	fb.failNext = 2
	require.Error(t, m.Select(2))
}

func TestResetDisablesAllChannels(t *testing.T) {
	fb := &fakeBus{}
	m := newTestMux(t, fb)

	require.NoError(t, m.Reset())
	require.Equal(t, []byte{0}, fb.writes[0])
}

func TestResetReopensDeadBus(t *testing.T) {
	dead := &fakeBus{}
	fresh := &fakeBus{}
	buses := []*fakeBus{dead, fresh}
	m, err := NewMux(func() (i2c.BusCloser, error) {
		b := buses[0]
		buses = buses[1:]
		return b, nil
	}, 0x70, 0, "SCL", "SDA")
	require.NoError(t, err)

	// reset write succeeds, the read-back probe does not
	dead.failReads = true
	require.NoError(t, m.Reset())
	require.Same(t, fresh, m.Bus())
}

func TestRecoverReplacesBusAndProbes(t *testing.T) {
	dead := &fakeBus{failNext: 100}
	fresh := &fakeBus{}
	buses := []*fakeBus{dead, fresh}
	m, err := NewMux(func() (i2c.BusCloser, error) {
		b := buses[0]
		buses = buses[1:]
		return b, nil
	}, 0x70, 0, "no-such-scl", "no-such-sda")
	require.NoError(t, err)

	require.NoError(t, m.Recover())
	require.True(t, dead.closed)
	require.Same(t, fresh, m.Bus())
}

func TestRecoverFailsWhenMuxAbsent(t *testing.T) {
	empty := &fakeBus{present: map[uint16]bool{}}
	m, err := NewMux(func() (i2c.BusCloser, error) { return empty, nil },
		0x70, 0, "no-such-scl", "no-such-sda")
	require.NoError(t, err)

	err = m.Recover()
	require.Error(t, err)
	require.Contains(t, err.Error(), "0x70")
}

func TestScanReportsPresentAddresses(t *testing.T) {
	fb := &fakeBus{present: map[uint16]bool{0x28: true, 0x70: true}}
	m := newTestMux(t, fb)

	require.Equal(t, []uint16{0x28, 0x70}, m.Scan())
}
