// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/mocap_pipeline/internal/config"
	"github.com/relabs-tech/mocap_pipeline/internal/protocol"
)

// hostLink is the serial channel to the host computer. Everything the
// host sees goes through here: LOG: lines and DATA: stream frames,
// interleaved but never torn, which is what the write lock is for.
type hostLink struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
}

// openHostLink opens the configured serial port.
func openHostLink(cfg *config.Config) (*hostLink, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        cfg.SerialPort,
		BaudRate:        uint(cfg.SerialBaud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", cfg.SerialPort, err)
	}
	return &hostLink{port: port}, nil
}

// newHostLink wraps an already-open stream; tests use it with buffers.
func newHostLink(rwc io.ReadWriteCloser) *hostLink {
	return &hostLink{port: rwc}
}

// WriteLog sends one LOG: line to the host.
func (h *hostLink) WriteLog(text string) error {
	return h.writeLine(protocol.HostLog(text))
}

// WriteData relays one stream frame as a DATA: line.
func (h *hostLink) WriteData(frame string) error {
	return h.writeLine(protocol.HostData(frame))
}

// ForwardLog implements logging.Sink: the receiver's own log lines go
// to the host too. Errors are dropped; the sink must never log.
func (h *hostLink) ForwardLog(line string) {
	h.WriteLog(line)
}

// Reader exposes the host-to-receiver direction for the command reader.
func (h *hostLink) Reader() io.Reader {
	return h.port
}

func (h *hostLink) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port.Close()
}

func (h *hostLink) writeLine(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.port.Write([]byte(line + "\n"))
	return err
}
