// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"fmt"
	"strings"
)

// Code is the closed set of command kinds carried on the control
// protocol. The dispatcher switches exhaustively over these; anything
// outside the set never becomes a Code.
type Code int

const (
	CmdRestartNode Code = iota // N
	CmdCheckSensors            // C
	CmdReinitSensors           // I
	CmdStartStream             // S
	CmdStopStream              // X
	CmdEmergencyStop           // Q
	CmdLogLevel                // D
	CmdPing                    // P
	CmdRestartReceiver         // R, handled locally by the receiver
)

var codeLetters = map[Code]byte{
	CmdRestartNode:     'N',
	CmdCheckSensors:    'C',
	CmdReinitSensors:   'I',
	CmdStartStream:     'S',
	CmdStopStream:      'X',
	CmdEmergencyStop:   'Q',
	CmdLogLevel:        'D',
	CmdPing:            'P',
	CmdRestartReceiver: 'R',
}

var letterCodes = map[byte]Code{}

func init() {
	for c, l := range codeLetters {
		letterCodes[l] = c
	}
}

// Letter returns the one-byte wire form of the code.
func (c Code) Letter() byte {
	return codeLetters[c]
}

func (c Code) String() string {
	return string(codeLetters[c])
}

// Command is one decoded command frame: CODE or CODE:PARAM.
type Command struct {
	Code  Code
	Param string
}

// Encode renders the command without the trailing newline.
func (c Command) Encode() string {
	if c.Param == "" {
		return c.Code.String()
	}
	return c.Code.String() + ":" + c.Param
}

// ParseCommand decodes a command line, case-insensitively. Unknown
// codes and empty lines are protocol errors, never panics.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	code, param, _ := strings.Cut(line, ":")
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 1 {
		return Command{}, fmt.Errorf("unknown command: %q", truncate(line, 16))
	}
	k, ok := letterCodes[code[0]]
	if !ok {
		return Command{}, fmt.Errorf("unknown command: %s", code)
	}
	return Command{Code: k, Param: param}, nil
}
