// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package wifi

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// The shell radios drive the standard Linux wireless tooling (ip,
// wpa_cli, hostapd). They are thin translations; all retry and timing
// policy lives in Station and AccessPoint.

type shellStation struct {
	iface string
	run   func(name string, args ...string) (string, error)
}

// NewShellStation returns a StationRadio driving wpa_supplicant on iface.
func NewShellStation(iface string) StationRadio {
	return &shellStation{iface: iface, run: runCommand}
}

func (r *shellStation) SetActive(on bool) error {
	state := "down"
	if on {
		state = "up"
	}
	_, err := r.run("ip", "link", "set", r.iface, state)
	return err
}

func (r *shellStation) ConfigureIP(ip, mask, gateway string) error {
	prefix, err := maskPrefix(mask)
	if err != nil {
		return err
	}
	if _, err := r.run("ip", "addr", "flush", "dev", r.iface); err != nil {
		return err
	}
	if _, err := r.run("ip", "addr", "add", fmt.Sprintf("%s/%d", ip, prefix), "dev", r.iface); err != nil {
		return err
	}
	_, err = r.run("ip", "route", "replace", "default", "via", gateway, "dev", r.iface)
	return err
}

func (r *shellStation) Associate(ssid, password string) error {
	out, err := r.run("wpa_cli", "-i", r.iface, "add_network")
	if err != nil {
		return err
	}
	id := strings.TrimSpace(lastLine(out))

	steps := [][]string{
		{"set_network", id, "ssid", fmt.Sprintf("%q", ssid)},
		{"set_network", id, "psk", fmt.Sprintf("%q", password)},
		{"select_network", id},
	}
	for _, step := range steps {
		args := append([]string{"-i", r.iface}, step...)
		out, err := r.run("wpa_cli", args...)
		if err != nil {
			return err
		}
		if strings.Contains(out, "FAIL") {
			return fmt.Errorf("wpa_cli %s failed", step[0])
		}
	}
	return nil
}

func (r *shellStation) Disassociate() error {
	_, err := r.run("wpa_cli", "-i", r.iface, "disconnect")
	return err
}

func (r *shellStation) Connected() (bool, error) {
	out, err := r.run("wpa_cli", "-i", r.iface, "status")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "wpa_state=COMPLETED"), nil
}

type shellAP struct {
	iface    string
	confPath string
	run      func(name string, args ...string) (string, error)
}

// NewShellAP returns an APRadio driving hostapd on iface. confPath is
// where the generated hostapd configuration is written.
func NewShellAP(iface, confPath string) APRadio {
	return &shellAP{iface: iface, confPath: confPath, run: runCommand}
}

func (r *shellAP) SetActive(on bool) error {
	if !on {
		// best effort, hostapd may not be running yet
		r.run("systemctl", "stop", "hostapd")
		_, err := r.run("ip", "link", "set", r.iface, "down")
		return err
	}
	_, err := r.run("ip", "link", "set", r.iface, "up")
	return err
}

func (r *shellAP) Configure(ssid, password string, channel int) error {
	conf := fmt.Sprintf(`interface=%s
driver=nl80211
ssid=%s
hw_mode=g
channel=%d
auth_algs=1
wpa=2
wpa_passphrase=%s
wpa_key_mgmt=WPA-PSK
rsn_pairwise=CCMP
`, r.iface, ssid, channel, password)

	if err := os.WriteFile(r.confPath, []byte(conf), 0o600); err != nil {
		return fmt.Errorf("writing hostapd config: %w", err)
	}
	if _, err := r.run("systemctl", "restart", "hostapd"); err != nil {
		return fmt.Errorf("starting hostapd: %w", err)
	}
	return nil
}

func (r *shellAP) ConfigureIP(ip, mask string) error {
	prefix, err := maskPrefix(mask)
	if err != nil {
		return err
	}
	if _, err := r.run("ip", "addr", "flush", "dev", r.iface); err != nil {
		return err
	}
	_, err = r.run("ip", "addr", "add", fmt.Sprintf("%s/%d", ip, prefix), "dev", r.iface)
	return err
}

func (r *shellAP) Active() (bool, error) {
	out, err := r.run("hostapd_cli", "-i", r.iface, "status")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "state=ENABLED"), nil
}

func runCommand(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		log.Debugf("%s %s: %v (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		return string(out), fmt.Errorf("%s: %w", name, err)
	}
	return string(out), nil
}

func maskPrefix(mask string) (int, error) {
	ip := net.ParseIP(mask)
	if ip == nil {
		return 0, fmt.Errorf("invalid subnet mask %q", mask)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("invalid subnet mask %q", mask)
	}
	ones, bits := net.IPMask(v4).Size()
	if bits != 32 {
		return 0, fmt.Errorf("invalid subnet mask %q", mask)
	}
	return ones, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
