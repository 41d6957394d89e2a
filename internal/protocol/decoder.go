package protocol

import (
	"bytes"
	"strings"
)

// maxCarry bounds the partial-frame buffer so a peer that never sends a
// newline cannot grow it without limit.
const maxCarry = 8192

// LineDecoder reassembles newline-terminated frames from a byte stream
// where reads may split a frame anywhere. Feed the raw bytes of each
// read; complete frames come back with the terminator stripped.
type LineDecoder struct {
	carry bytes.Buffer
}

// Feed appends one read's worth of bytes and returns every complete
// frame now available, in order. CR before LF is tolerated and stripped.
func (d *LineDecoder) Feed(p []byte) []string {
	d.carry.Write(p)
	var frames []string
	for {
		raw := d.carry.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(raw[:i]), "\r")
		d.carry.Next(i + 1)
		if line == "" {
			continue
		}
		frames = append(frames, line)
	}
	if d.carry.Len() > maxCarry {
		d.carry.Reset()
	}
	return frames
}

// Pending reports buffered bytes of an incomplete frame.
func (d *LineDecoder) Pending() int {
	return d.carry.Len()
}
