package sensors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/mocap_pipeline/internal/quat"
)

type fakeSelector struct {
	selects  []int
	resets   int
	recovers int
	failCh   map[int]bool
}

func (s *fakeSelector) Select(ch int) error {
	if s.failCh[ch] {
		return errors.New("channel dead")
	}
	s.selects = append(s.selects, ch)
	return nil
}
func (s *fakeSelector) Reset() error   { s.resets++; return nil }
func (s *fakeSelector) Recover() error { s.recovers++; return nil }

type fakeDevice struct {
	q        quat.Quaternion
	qErr     error
	cal      int
	calErr   error
	profile  []byte
	restored []byte
}

func (d *fakeDevice) Quaternion() (quat.Quaternion, error) { return d.q, d.qErr }
func (d *fakeDevice) CalibrationStatus() (int, error)      { return d.cal, d.calErr }
func (d *fakeDevice) CalibrationProfile() ([]byte, error)  { return d.profile, nil }
func (d *fakeDevice) SetCalibrationProfile(p []byte) error { d.restored = p; return nil }

func noSleep(t *testing.T) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

func allOK(t *testing.T) (*fakeSelector, *Array, map[uint16][]*fakeDevice) {
	t.Helper()
	noSleep(t)
	sel := &fakeSelector{failCh: map[int]bool{}}
	made := map[uint16][]*fakeDevice{}
	a := NewArray(sel, func(addr uint16) (Device, error) {
		d := &fakeDevice{q: quat.Quaternion{1, 0, 0, 0}, cal: 100}
		made[addr] = append(made[addr], d)
		return d, nil
	}, nil, nil)
	return sel, a, made
}

func TestInitAllAddressAndChannelLayout(t *testing.T) {
	sel, a, made := allOK(t)

	n, err := a.InitAll()
	require.NoError(t, err)
	require.Equal(t, SlotCount, n)
	require.Equal(t, SlotCount, a.ActiveCount())

	// two sensors per channel, alternating addresses
	require.Equal(t, []int{0, 0, 1, 1, 2, 2, 3, 3}, sel.selects)
	require.Len(t, made[0x28], 4)
	require.Len(t, made[0x29], 4)
	require.Equal(t, 1, sel.resets, "multiplexer reset precedes init")
}

func TestInitAllRetriesThenSucceeds(t *testing.T) {
	noSleep(t)
	sel := &fakeSelector{failCh: map[int]bool{}}
	failures := 2
	a := NewArray(sel, func(addr uint16) (Device, error) {
		if addr == 0x29 && failures > 0 {
			failures--
			return nil, errors.New("no ack")
		}
		return &fakeDevice{}, nil
	}, nil, nil)

	n, err := a.InitAll()
	require.NoError(t, err)
	require.Equal(t, SlotCount, n)
	// the second consecutive failure triggers a multiplexer reset
	require.Equal(t, 2, sel.resets)
}

func TestInitAllGivesUpAfterFiveAttempts(t *testing.T) {
	noSleep(t)
	sel := &fakeSelector{failCh: map[int]bool{}}
	attempts := 0
	a := NewArray(sel, func(addr uint16) (Device, error) {
		// only slot 0's attempts fail; the later 0x28 slots succeed
		if addr == 0x28 && attempts < 5 {
			attempts++
			return nil, errors.New("no ack")
		}
		return &fakeDevice{}, nil
	}, nil, nil)

	n, err := a.InitAll()
	require.NoError(t, err)
	require.Equal(t, SlotCount-1, n)
	require.Equal(t, 5, attempts)
}

func TestInitAllTotalFailureRecovers(t *testing.T) {
	sel := &fakeSelector{failCh: map[int]bool{0: true, 1: true, 2: true, 3: true}}
	a := NewArray(sel, func(addr uint16) (Device, error) {
		t.Fatal("factory must not run when channel selection fails")
		return nil, nil
	}, nil, nil)

	n, err := a.InitAll()
	require.Error(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, sel.recovers)
}

func TestReadAllSubstitutesZeroAndMarksAbsent(t *testing.T) {
	_, a, made := allOK(t)
	_, err := a.InitAll()
	require.NoError(t, err)

	// slot 2 is the first device created at 0x28 on channel 1
	made[0x28][1].qErr = errors.New("bus glitch")

	frame := a.ReadAll()
	require.Equal(t, quat.Quaternion{1, 0, 0, 0}, frame[0])
	require.Equal(t, quat.Zero, frame[2])
	require.Equal(t, SlotCount-1, a.ActiveCount())

	// the slot stays zero on subsequent reads
	frame = a.ReadAll()
	require.Equal(t, quat.Zero, frame[2])
}

func TestHealthCheckRoundRobinMarksDisconnected(t *testing.T) {
	_, a, made := allOK(t)
	_, err := a.InitAll()
	require.NoError(t, err)

	made[0x29][0].calErr = errors.New("gone") // slot 1

	for i := 0; i < SlotCount; i++ {
		a.HealthCheck()
	}
	require.Equal(t, SlotCount-1, a.ActiveCount())
}

func TestHealthCheckPersistsCalibrationOnce(t *testing.T) {
	noSleep(t)
	sel := &fakeSelector{failCh: map[int]bool{}}
	dev := &fakeDevice{cal: 80, profile: make([]byte, 22)}
	first := true
	a := NewArray(sel, func(addr uint16) (Device, error) {
		if first {
			first = false
			return dev, nil
		}
		return &fakeDevice{cal: 10}, nil
	}, mustStore(t), nil)

	_, err := a.InitAll()
	require.NoError(t, err)

	a.probe = 0
	a.HealthCheck()
	require.True(t, a.saved[0])

	got, err := a.store.Load(0)
	require.NoError(t, err)
	require.Equal(t, dev.profile, got)

	// a second pass over the same slot must not rewrite the profile
	require.NoError(t, a.store.Save(0, []byte("sentinel")))
	a.probe = 0
	a.HealthCheck()
	got, err = a.store.Load(0)
	require.NoError(t, err)
	require.Equal(t, []byte("sentinel"), got)
}

func TestStatusesReportPerSlot(t *testing.T) {
	sel := &fakeSelector{failCh: map[int]bool{}}
	first := true
	a := NewArray(sel, func(addr uint16) (Device, error) {
		if first {
			first = false
			return &fakeDevice{cal: 75}, nil
		}
		return &fakeDevice{cal: 30}, nil
	}, nil, nil)

	_, err := a.InitAll()
	require.NoError(t, err)
	a.slots[1] = nil

	st := a.Statuses()
	require.Len(t, st, SlotCount)
	require.Equal(t, "Sensor 0 (Right Lower Leg): Connected, Calibration: 75", st[0])
	require.Equal(t, "Sensor 1 (Right Upper Leg): Not Initialized", st[1])
}

func TestRestoreCalibrationOnInit(t *testing.T) {
	store := mustStore(t)
	profile := make([]byte, 22)
	for i := range profile {
		profile[i] = byte(i)
	}
	require.NoError(t, store.Save(3, profile))

	sel := &fakeSelector{failCh: map[int]bool{}}
	var devs []*fakeDevice
	a := NewArray(sel, func(addr uint16) (Device, error) {
		d := &fakeDevice{}
		devs = append(devs, d)
		return d, nil
	}, store, nil)

	_, err := a.InitAll()
	require.NoError(t, err)
	require.Equal(t, profile, devs[3].restored)
	require.Nil(t, devs[0].restored)
}

func mustStore(t *testing.T) *CalibrationStore {
	t.Helper()
	cs, err := NewCalibrationStore(t.TempDir())
	require.NoError(t, err)
	return cs
}
