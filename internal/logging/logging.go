// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logging wraps logrus with the pipeline's 0-3 ordinal threshold
// and forwards every emitted line toward the host as a LOG: frame.
package logging

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Ordinal log levels shared with the wire protocol (D command).
const (
	LevelDebug = iota
	LevelInfo
	LevelWarning
	LevelError
)

var levelNames = [4]string{"DEBUG", "INFO", "WARNING", "ERROR"}

var logrusLevels = [4]log.Level{
	log.DebugLevel,
	log.InfoLevel,
	log.WarnLevel,
	log.ErrorLevel,
}

// Sink receives every formatted log line that passes the threshold.
// Implementations must not log through logrus from ForwardLog: the hook
// fires with the entry locked and recursion would deadlock. Forwarding
// failures are dropped silently.
type Sink interface {
	ForwardLog(line string)
}

var (
	threshold atomic.Int32

	sinkMu sync.RWMutex
	sink   Sink
)

// deviceFormatter renders "[NODE] [2026-01-02 15:04:05] [WARNING] msg".
// INFO carries no level tag, matching the device log convention.
type deviceFormatter struct {
	source string
}

func (f *deviceFormatter) Format(e *log.Entry) ([]byte, error) {
	tag := ""
	switch e.Level {
	case log.DebugLevel, log.TraceLevel:
		tag = "[DEBUG] "
	case log.WarnLevel:
		tag = "[WARNING] "
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		tag = "[ERROR] "
	}
	line := fmt.Sprintf("[%s] [%s] %s%s",
		f.source, e.Time.Format("2006-01-02 15:04:05"), tag, e.Message)
	return []byte(line + "\n"), nil
}

// forwardHook hands every rendered line to the current sink.
type forwardHook struct {
	fmt *deviceFormatter
}

func (h *forwardHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *forwardHook) Fire(e *log.Entry) error {
	sinkMu.RLock()
	s := sink
	sinkMu.RUnlock()
	if s == nil {
		return nil
	}
	b, err := h.fmt.Format(e)
	if err != nil {
		return nil
	}
	// strip the trailing newline; the sink frames the line itself
	s.ForwardLog(string(b[:len(b)-1]))
	return nil
}

// Setup installs the device formatter and the forwarding hook.
// source is the tag in every line, "NODE" or "RECEIVER".
func Setup(source string, level int) {
	f := &deviceFormatter{source: source}
	log.SetFormatter(f)
	log.AddHook(&forwardHook{fmt: f})
	if err := SetThreshold(level); err != nil {
		SetThreshold(LevelInfo)
	}
}

// SetThreshold sets the 0-3 ordinal filter on emitted lines.
func SetThreshold(level int) error {
	if level < LevelDebug || level > LevelError {
		return fmt.Errorf("invalid log level: %d. Must be 0-3", level)
	}
	threshold.Store(int32(level))
	log.SetLevel(logrusLevels[level])
	return nil
}

// Threshold returns the current ordinal threshold.
func Threshold() int {
	return int(threshold.Load())
}

// ThresholdName returns the symbolic name of the current threshold.
func ThresholdName() string {
	return levelNames[Threshold()]
}

// LevelName returns the symbolic name for an ordinal level, if valid.
func LevelName(level int) (string, bool) {
	if level < LevelDebug || level > LevelError {
		return "", false
	}
	return levelNames[level], true
}

// SetSink installs (or clears, with nil) the line forwarder.
func SetSink(s Sink) {
	sinkMu.Lock()
	sink = s
	sinkMu.Unlock()
}
