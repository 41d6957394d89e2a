// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package wifi manages the point-to-point link between node and
// receiver: the receiver runs a dedicated access point, the node joins
// it as a station with a static address. The radio hardware sits behind
// small interfaces so the connection logic is testable without root or
// an actual adapter.
package wifi

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// StationRadio abstracts the client-side radio.
type StationRadio interface {
	SetActive(on bool) error
	// ConfigureIP applies the static address. Called before association
	// so the link is usable the instant it comes up.
	ConfigureIP(ip, mask, gateway string) error
	Associate(ssid, password string) error
	Disassociate() error
	Connected() (bool, error)
}

// APRadio abstracts the access-point radio.
type APRadio interface {
	SetActive(on bool) error
	Configure(ssid, password string, channel int) error
	ConfigureIP(ip, mask string) error
	Active() (bool, error)
}

// StationParams carries the join parameters for the receiver's network.
type StationParams struct {
	SSID     string
	Password string
	IP       string
	Mask     string
	Gateway  string
}

// APParams carries the network the receiver announces.
type APParams struct {
	SSID     string
	Password string
	Channel  int
	IP       string
	Mask     string
}

const (
	connectAttempts   = 5
	connectWait       = 15 * time.Second
	pollInterval      = 500 * time.Millisecond
	maxConnectBackoff = 30 * time.Second

	reconnectAttempts = 3
	reconnectWait     = 5 * time.Second

	apStartWait = 10 * time.Second
)

// Station joins and maintains the node's uplink.
type Station struct {
	radio  StationRadio
	params StationParams
	feed   func()
	sleep  func(time.Duration)
}

// NewStation wires a station. feed keeps the watchdog alive through the
// long waits; it may be nil.
func NewStation(radio StationRadio, params StationParams, feed func()) *Station {
	if feed == nil {
		feed = func() {}
	}
	return &Station{radio: radio, params: params, feed: feed, sleep: time.Sleep}
}

// Connect runs the full join sequence: radio off/on, static IP first,
// then up to 5 association attempts, each waiting 15s for the link and
// backing off exponentially (capped at 30s) between attempts.
func (s *Station) Connect() error {
	s.radio.SetActive(false)
	s.sleep(pollInterval)
	if err := s.radio.SetActive(true); err != nil {
		return fmt.Errorf("activating station radio: %w", err)
	}

	if err := s.radio.ConfigureIP(s.params.IP, s.params.Mask, s.params.Gateway); err != nil {
		log.Errorf("Error setting static IP: %v", err)
	}

	for attempt := 0; attempt < connectAttempts; attempt++ {
		log.Infof("Connecting to WiFi, attempt %d/%d...", attempt+1, connectAttempts)
		if err := s.radio.Associate(s.params.SSID, s.params.Password); err != nil {
			log.Errorf("WiFi connection error: %v", err)
			s.sleep(time.Second)
			continue
		}
		if s.waitConnected(connectWait) {
			log.Infof("Connected to WiFi: %s", s.params.IP)
			return nil
		}

		backoff := min(time.Duration(1<<attempt)*time.Second, maxConnectBackoff)
		log.Warnf("Connection failed, retrying in %v...", backoff)
		s.sleep(backoff)
		s.feed()
	}
	return errors.New("wifi connection failed after multiple attempts")
}

// Reconnect makes 3 quick attempts to rejoin after the link dropped.
// A non-nil error means the caller should escalate to a full restart.
func (s *Station) Reconnect() error {
	for attempt := 0; attempt < reconnectAttempts; attempt++ {
		log.Infof("Reconnection attempt %d/%d", attempt+1, reconnectAttempts)
		s.radio.Disassociate()
		s.sleep(pollInterval)

		if err := s.radio.ConfigureIP(s.params.IP, s.params.Mask, s.params.Gateway); err != nil {
			log.Errorf("Error setting static IP: %v", err)
		}
		if err := s.radio.Associate(s.params.SSID, s.params.Password); err != nil {
			log.Errorf("WiFi connection error: %v", err)
			continue
		}
		if s.waitConnected(reconnectWait) {
			log.Info("WiFi reconnected successfully")
			return nil
		}
	}
	return errors.New("wifi reconnection failed")
}

// Connected reports the current link state; errors count as down.
func (s *Station) Connected() bool {
	up, err := s.radio.Connected()
	return err == nil && up
}

func (s *Station) waitConnected(timeout time.Duration) bool {
	for waited := time.Duration(0); waited < timeout; waited += pollInterval {
		up, err := s.radio.Connected()
		if err == nil && up {
			return true
		}
		s.sleep(pollInterval)
		s.feed()
	}
	return false
}

// AccessPoint brings up the receiver's network.
type AccessPoint struct {
	radio  APRadio
	params APParams
	feed   func()
	sleep  func(time.Duration)
}

func NewAccessPoint(radio APRadio, params APParams, feed func()) *AccessPoint {
	if feed == nil {
		feed = func() {}
	}
	return &AccessPoint{radio: radio, params: params, feed: feed, sleep: time.Sleep}
}

// Start performs one bring-up attempt: deactivate, reactivate, apply the
// network settings and poll up to 10s for the AP to report active.
// Retry policy belongs to the caller.
func (a *AccessPoint) Start() error {
	a.radio.SetActive(false)
	a.sleep(pollInterval)
	if err := a.radio.SetActive(true); err != nil {
		return fmt.Errorf("activating AP radio: %w", err)
	}

	if err := a.radio.Configure(a.params.SSID, a.params.Password, a.params.Channel); err != nil {
		return fmt.Errorf("configuring access point: %w", err)
	}
	if err := a.radio.ConfigureIP(a.params.IP, a.params.Mask); err != nil {
		return fmt.Errorf("configuring AP address: %w", err)
	}

	for waited := time.Duration(0); waited < apStartWait; waited += pollInterval {
		a.feed()
		up, err := a.radio.Active()
		if err == nil && up {
			log.Infof("Access Point started successfully! SSID: %s", a.params.SSID)
			log.Infof("AP IP: %s", a.params.IP)
			return nil
		}
		a.sleep(pollInterval)
	}
	return errors.New("failed to start access point within timeout period")
}

// Active reports whether the AP is still up; errors count as down.
func (a *AccessPoint) Active() bool {
	up, err := a.radio.Active()
	return err == nil && up
}
