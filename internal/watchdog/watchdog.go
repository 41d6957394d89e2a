// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package watchdog wraps the Linux hardware watchdog. Every long-running
// loop feeds it; if no loop manages to feed within the device timeout the
// hardware resets the board. That is the last-resort recovery path for
// hangs that escape all software handling.
package watchdog

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
)

// DefaultDevice is the standard Linux watchdog node.
const DefaultDevice = "/dev/watchdog"

// Watchdog is fed by long-running loops. Implementations must make Feed
// safe for concurrent use and cheap enough for 100ms polling loops.
type Watchdog interface {
	Feed()
	// Disarm stops the watchdog gracefully (magic close) so an orderly
	// shutdown does not trigger a hardware reset.
	Disarm() error
}

type hardware struct {
	mu sync.Mutex
	f  *os.File
}

// Open arms the hardware watchdog. The device timeout is configured by
// the kernel driver / bootloader; we only feed it.
func Open(path string) (Watchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	return &hardware{f: f}, nil
}

func (h *hardware) Feed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return
	}
	h.f.Write([]byte{0})
}

func (h *hardware) Disarm() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	// 'V' is the magic character: the driver disarms on close instead of
	// treating it as an expired timer.
	if _, err := h.f.Write([]byte{'V'}); err != nil {
		h.f.Close()
		h.f = nil
		return fmt.Errorf("watchdog magic close: %w", err)
	}
	err := h.f.Close()
	h.f = nil
	return err
}

type nop struct{}

func (nop) Feed()         {}
func (nop) Disarm() error { return nil }

// Nop is the fallback when the watchdog device is unavailable; the
// process runs without hardware hang protection.
func Nop() Watchdog {
	return nop{}
}

// Soft is a software watchdog for hosts and tests: if Feed is not called
// within the timeout it fires the expiry callback once.
type Soft struct {
	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	stopped bool
}

// NewSoft arms a software watchdog calling onExpire from a background
// goroutine when starved.
func NewSoft(timeout time.Duration, onExpire func()) *Soft {
	s := &Soft{timeout: timeout}
	s.timer = time.AfterFunc(timeout, onExpire)
	return s
}

func (s *Soft) Feed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.timer.Reset(s.timeout)
	}
}

func (s *Soft) Disarm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.timer.Stop()
	return nil
}

// HardReset performs an unconditional machine reset. Overridable for
// tests and for hosts where a process exit is the wanted behavior.
var HardReset = func() {
	syscall.Sync()
	syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
	// unreachable on success; if reboot is denied, exit and let the
	// service supervisor restart the process
	os.Exit(1)
}
