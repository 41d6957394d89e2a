// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package state is the device-wide concurrency core: the process state
// machine, the monotonic emergency-stop flag polled by every long-running
// loop, and the per-stage failure counters that gate safe mode.
package state

import (
	"sync"
)

// Process is the lifecycle state of a device process.
type Process int

const (
	Initializing Process = iota
	Running
	EmergencyStopped
	SafeMode
	Halted
)

func (p Process) String() string {
	switch p {
	case Initializing:
		return "Initializing"
	case Running:
		return "Running"
	case EmergencyStopped:
		return "EmergencyStop"
	case SafeMode:
		return "SafeMode"
	case Halted:
		return "Halted"
	}
	return "Unknown"
}

// Stage identifies an initialization stage with its own failure counter.
type Stage int

const (
	StageWiFiConnect Stage = iota
	StageAPStart
	StageSocketCreate
	StageSensorInit
	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageWiFiConnect:
		return "wifi-connect"
	case StageAPStart:
		return "ap-start"
	case StageSocketCreate:
		return "socket-create"
	case StageSensorInit:
		return "sensor-init"
	}
	return "unknown"
}

// MaxStageFailures is the consecutive-failure count at one stage that
// promotes the process to SafeMode instead of crash-looping.
const MaxStageFailures = 3

// Core carries the shared mutable process state behind one lock.
// Callers never perform network or bus I/O while Core's lock is held;
// all methods are short and non-blocking.
type Core struct {
	mu        sync.Mutex
	process   Process
	emergency bool
	failures  [stageCount]int
}

func NewCore() *Core {
	return &Core{process: Initializing}
}

// Process returns the current lifecycle state.
func (c *Core) Process() Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process
}

// SetRunning marks initialization complete. No-op once the process has
// left the healthy path.
func (c *Core) SetRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process == Initializing {
		c.process = Running
	}
}

// EmergencyStop sets the process-wide stop flag. The flag is monotonic:
// once true it stays true for the process lifetime, cleared only by a
// full restart.
func (c *Core) EmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergency = true
	if c.process != Halted {
		c.process = EmergencyStopped
	}
}

// Stopped reports the emergency-stop flag. Every long-running loop polls
// this between bounded waits.
func (c *Core) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emergency
}

// StageFailed increments the consecutive-failure counter for a stage
// and reports whether the stage is exhausted (SafeMode due).
func (c *Core) StageFailed(s Stage) (count int, exhausted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[s]++
	return c.failures[s], c.failures[s] >= MaxStageFailures
}

// StageSucceeded resets the stage's consecutive-failure counter.
func (c *Core) StageSucceeded(s Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[s] = 0
}

// Failures returns the current counter for a stage.
func (c *Core) Failures(s Stage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[s]
}

// EnterSafeMode moves the process to the degraded diagnostic state.
// Emergency stop and halt take precedence.
func (c *Core) EnterSafeMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.process != Halted && !c.emergency {
		c.process = SafeMode
	}
}

// Halt marks the terminal state after orderly teardown.
func (c *Core) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.process = Halted
}
