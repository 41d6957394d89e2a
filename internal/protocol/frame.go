// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package protocol owns every frame on the wire: the UDP stream format,
// the control-channel frames shared between node and receiver, and the
// serial lines exchanged with the host. All frames are ASCII text,
// colon/comma delimited, newline terminated.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relabs-tech/mocap_pipeline/internal/quat"
)

// SlotCount is the fixed number of sensor slots per node.
const SlotCount = 8

// Version is the control-channel protocol version announced in the hello frame.
const Version = "v1.0"

// Frame prefixes on the control channel and the host serial link.
const (
	prefixHeartbeat = "HEARTBEAT:"
	prefixLog       = "LOG:"
	prefixHello     = "NODE_CONNECTED:"
	prefixData      = "DATA:"
	prefixOK        = "OK:"
	prefixError     = "ERROR:"
	prefixSeq       = "SEQ:"
)

// Frame is one classified control-channel frame. Concrete types:
// Heartbeat, LogLine, Hello, Reply, and Response for anything else.
type Frame interface {
	isFrame()
}

// Heartbeat carries node liveness info: HEARTBEAT:<active>/8:<free_mem>.
type Heartbeat struct {
	Active  int
	Total   int
	FreeMem uint64
}

// LogLine is a forwarded log record: LOG:<text>.
type LogLine struct {
	Text string
}

// Hello is the one-shot connection announcement: NODE_CONNECTED:<version>.
type Hello struct {
	Version string
}

// Reply is a structured command reply: OK:<message> or ERROR:<message>.
type Reply struct {
	OK      bool
	Message string
}

// Response is any control frame that matches no known prefix; it is
// treated as a free-form command response and forwarded with a wrapper.
type Response struct {
	Text string
}

func (Heartbeat) isFrame() {}
func (LogLine) isFrame()   {}
func (Hello) isFrame()     {}
func (Reply) isFrame()     {}
func (Response) isFrame()  {}

// Classify decodes one control-channel line into its frame type.
// Malformed variants of a known prefix degrade to Response rather than
// erroring; the control loop must never die on a bad frame.
func Classify(line string) Frame {
	switch {
	case strings.HasPrefix(line, prefixHeartbeat):
		hb, err := parseHeartbeat(line)
		if err != nil {
			return Response{Text: line}
		}
		return hb
	case strings.HasPrefix(line, prefixLog):
		return LogLine{Text: line[len(prefixLog):]}
	case strings.HasPrefix(line, prefixHello):
		return Hello{Version: line[len(prefixHello):]}
	case strings.HasPrefix(line, prefixOK):
		return Reply{OK: true, Message: line[len(prefixOK):]}
	case strings.HasPrefix(line, prefixError):
		return Reply{OK: false, Message: line[len(prefixError):]}
	default:
		return Response{Text: line}
	}
}

// Encode renders the heartbeat frame without the trailing newline.
func (h Heartbeat) Encode() string {
	return fmt.Sprintf("%s%d/%d:%d", prefixHeartbeat, h.Active, h.Total, h.FreeMem)
}

func parseHeartbeat(line string) (Heartbeat, error) {
	parts := strings.SplitN(line[len(prefixHeartbeat):], ":", 2)
	if len(parts) != 2 {
		return Heartbeat{}, fmt.Errorf("malformed heartbeat: %q", line)
	}
	var hb Heartbeat
	if _, err := fmt.Sscanf(parts[0], "%d/%d", &hb.Active, &hb.Total); err != nil {
		return Heartbeat{}, fmt.Errorf("malformed heartbeat sensors field: %q", parts[0])
	}
	mem, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Heartbeat{}, fmt.Errorf("malformed heartbeat memory field: %q", parts[1])
	}
	hb.FreeMem = mem
	return hb, nil
}

// Encode renders the hello frame.
func (h Hello) Encode() string {
	return prefixHello + h.Version
}

// Encode renders the log frame.
func (l LogLine) Encode() string {
	return prefixLog + l.Text
}

// Encode renders the reply with its OK:/ERROR: status prefix.
func (r Reply) Encode() string {
	if r.OK {
		return prefixOK + r.Message
	}
	return prefixError + r.Message
}

// ParseReply parses a STATUS:message command reply. Lines without a
// known status prefix are reported as failed replies carrying the raw
// text, mirroring how the relay treats unparseable node output.
func ParseReply(line string) Reply {
	f := Classify(line)
	if r, ok := f.(Reply); ok {
		return r
	}
	return Reply{OK: false, Message: line}
}

// StreamFrame is one UDP datagram: a wrapping sequence number and the
// quaternions of all 8 slots, absent slots zero-filled.
type StreamFrame struct {
	Seq   int
	Quats [SlotCount]quat.Quaternion
}

// Encode renders SEQ:<n>,S0:[w,x,y,z],...,S7:[w,x,y,z] with floats at
// 4 decimals.
func (f StreamFrame) Encode() string {
	var b strings.Builder
	b.Grow(16 + SlotCount*48)
	fmt.Fprintf(&b, "%s%d", prefixSeq, f.Seq)
	for i, q := range f.Quats {
		fmt.Fprintf(&b, ",S%d:[%.4f,%.4f,%.4f,%.4f]", i, q[0], q[1], q[2], q[3])
	}
	return b.String()
}

// ParseStreamFrame decodes a full stream frame.
func ParseStreamFrame(line string) (StreamFrame, error) {
	var f StreamFrame
	seq, err := ParseSeq(line)
	if err != nil {
		return f, err
	}
	f.Seq = seq
	for i := 0; i < SlotCount; i++ {
		tag := fmt.Sprintf("S%d:[", i)
		start := strings.Index(line, tag)
		if start < 0 {
			return f, fmt.Errorf("stream frame missing slot %d", i)
		}
		rest := line[start+len(tag):]
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return f, fmt.Errorf("stream frame slot %d unterminated", i)
		}
		fields := strings.Split(rest[:end], ",")
		if len(fields) != 4 {
			return f, fmt.Errorf("stream frame slot %d has %d components", i, len(fields))
		}
		for j, s := range fields {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return f, fmt.Errorf("stream frame slot %d component %d: %w", i, j, err)
			}
			f.Quats[i][j] = float32(v)
		}
	}
	return f, nil
}

// ParseSeq extracts just the sequence number; the receiver's hot path
// never decodes the quaternions it is about to relay verbatim.
func ParseSeq(line string) (int, error) {
	if !strings.HasPrefix(line, prefixSeq) {
		return 0, fmt.Errorf("not a stream frame: %q", truncate(line, 32))
	}
	rest := line[len(prefixSeq):]
	if i := strings.IndexByte(rest, ','); i >= 0 {
		rest = rest[:i]
	}
	seq, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("bad sequence field: %w", err)
	}
	return seq, nil
}

// HostLog renders a LOG: line for the host serial link.
func HostLog(text string) string {
	return prefixLog + text
}

// HostData renders a DATA: line relaying one stream frame to the host.
func HostData(frame string) string {
	return prefixData + frame
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
