package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all configuration values for both the node and the receiver.
// A single flat file serves both roles; each binary reads the keys it needs.
type Config struct {
	// Network
	SSID       string
	Password   string
	NodeIP     string
	ReceiverIP string
	SubnetMask string
	Gateway    string
	APChannel  int

	// Ports
	ControlPort int
	StreamPort  int

	// WiFi interface driven by wpa_cli / hostapd
	WiFiInterface string

	// Hardware
	I2CBus         string
	MuxAddr        uint16
	MuxSettleMS    int // multiplexer channel switch settle time
	SCLPin         string
	SDAPin         string
	CalibrationDir string

	// Timing (all in the units the key names)
	ReadIntervalMS      int // sensor read loop tick; 15ms targets >50Hz
	HeartbeatIntervalS  int
	ReconnectIntervalS  int
	HealthCheckIntervalS int
	StatusIntervalS     int
	WatchdogTimeoutS    int

	// Streaming protocol heuristics. Inherited from observed behavior,
	// not protocol invariants, so they stay configurable.
	SeqSpace   int
	LossSanity int

	// Host serial link (receiver)
	SerialPort string
	SerialBaud int

	// Optional diagnostic taps (receiver); empty disables
	MQTTBroker   string
	MQTTClientID string
	WebListen    string

	// Initial log threshold 0-3 (DEBUG..ERROR)
	LogLevel int
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported (lowercase) so other packages cannot access it directly.
//     This enforces encapsulation and prevents external code from modifying config without proper locking.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock (Lock) for initialization,
//     read lock (RLock) for Get() allows multiple concurrent readers without blocking each other.
//
// External code must use InitGlobal() to set and Get() to read, ensuring thread safety.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults mirror the deployed device constants. Any key may be
// overridden in the config file.
func defaults() *Config {
	return &Config{
		SSID:       "MotionCaptureAP",
		Password:   "password123",
		NodeIP:     "192.168.4.2",
		ReceiverIP: "192.168.4.1",
		SubnetMask: "255.255.255.0",
		Gateway:    "192.168.4.1",
		APChannel:  6,

		ControlPort: 5006,
		StreamPort:  5005,

		WiFiInterface: "wlan0",

		I2CBus:         "1",
		MuxAddr:        0x70,
		MuxSettleMS:    1,
		SCLPin:         "GPIO3",
		SDAPin:         "GPIO2",
		CalibrationDir: "/var/lib/mocap/calibration",

		ReadIntervalMS:       15,
		HeartbeatIntervalS:   15,
		ReconnectIntervalS:   2,
		HealthCheckIntervalS: 5,
		StatusIntervalS:      60,
		WatchdogTimeoutS:     30,

		SeqSpace:   65536,
		LossSanity: 1000,

		SerialPort: "/dev/ttyGS0",
		SerialBaud: 115200,

		LogLevel: 1,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	atoi := func(name string) (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		return n, nil
	}

	var err error
	switch key {
	// Network
	case "SSID":
		c.SSID = value
	case "PASSWORD":
		c.Password = value
	case "NODE_IP":
		c.NodeIP = value
	case "RECEIVER_IP":
		c.ReceiverIP = value
	case "SUBNET_MASK":
		c.SubnetMask = value
	case "GATEWAY":
		c.Gateway = value
	case "AP_CHANNEL":
		if c.APChannel, err = atoi("AP_CHANNEL"); err != nil {
			return err
		}
		if c.APChannel < 1 || c.APChannel > 14 {
			return fmt.Errorf("AP_CHANNEL must be 1-14, got %d", c.APChannel)
		}

	// Ports
	case "CONTROL_PORT":
		if c.ControlPort, err = atoi("CONTROL_PORT"); err != nil {
			return err
		}
	case "STREAM_PORT":
		if c.StreamPort, err = atoi("STREAM_PORT"); err != nil {
			return err
		}

	case "WIFI_INTERFACE":
		c.WiFiInterface = value

	// Hardware
	case "I2C_BUS":
		c.I2CBus = value
	case "MUX_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid MUX_ADDR %q: %w", value, err)
		}
		c.MuxAddr = uint16(addr)
	case "MUX_SETTLE_MS":
		if c.MuxSettleMS, err = atoi("MUX_SETTLE_MS"); err != nil {
			return err
		}
	case "SCL_PIN":
		c.SCLPin = value
	case "SDA_PIN":
		c.SDAPin = value
	case "CALIBRATION_DIR":
		c.CalibrationDir = value

	// Timing
	case "READ_INTERVAL_MS":
		if c.ReadIntervalMS, err = atoi("READ_INTERVAL_MS"); err != nil {
			return err
		}
	case "HEARTBEAT_INTERVAL_S":
		if c.HeartbeatIntervalS, err = atoi("HEARTBEAT_INTERVAL_S"); err != nil {
			return err
		}
	case "RECONNECT_INTERVAL_S":
		if c.ReconnectIntervalS, err = atoi("RECONNECT_INTERVAL_S"); err != nil {
			return err
		}
	case "HEALTH_CHECK_INTERVAL_S":
		if c.HealthCheckIntervalS, err = atoi("HEALTH_CHECK_INTERVAL_S"); err != nil {
			return err
		}
	case "STATUS_INTERVAL_S":
		if c.StatusIntervalS, err = atoi("STATUS_INTERVAL_S"); err != nil {
			return err
		}
	case "WATCHDOG_TIMEOUT_S":
		if c.WatchdogTimeoutS, err = atoi("WATCHDOG_TIMEOUT_S"); err != nil {
			return err
		}

	// Streaming heuristics
	case "SEQ_SPACE":
		if c.SeqSpace, err = atoi("SEQ_SPACE"); err != nil {
			return err
		}
		if c.SeqSpace < 2 {
			return fmt.Errorf("SEQ_SPACE must be at least 2, got %d", c.SeqSpace)
		}
	case "LOSS_SANITY":
		if c.LossSanity, err = atoi("LOSS_SANITY"); err != nil {
			return err
		}

	// Host serial link
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD":
		if c.SerialBaud, err = atoi("SERIAL_BAUD"); err != nil {
			return err
		}

	// Optional diagnostic taps
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "WEB_LISTEN":
		c.WebListen = value

	case "LOG_LEVEL":
		if c.LogLevel, err = atoi("LOG_LEVEL"); err != nil {
			return err
		}
		if c.LogLevel < 0 || c.LogLevel > 3 {
			return fmt.Errorf("LOG_LEVEL must be 0-3, got %d", c.LogLevel)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are sane.
func (c *Config) validate() error {
	if c.SSID == "" || len(c.SSID) > 32 {
		return fmt.Errorf("SSID must be 1-32 characters")
	}
	if len(c.Password) < 8 {
		return fmt.Errorf("PASSWORD must be at least 8 characters")
	}
	if c.ControlPort == 0 || c.StreamPort == 0 {
		return fmt.Errorf("CONTROL_PORT and STREAM_PORT are required")
	}
	if c.ControlPort == c.StreamPort {
		return fmt.Errorf("CONTROL_PORT and STREAM_PORT must differ")
	}
	if c.ReadIntervalMS <= 0 {
		return fmt.Errorf("READ_INTERVAL_MS must be positive")
	}
	if c.LossSanity <= 0 || c.LossSanity >= c.SeqSpace {
		return fmt.Errorf("LOSS_SANITY must be in (0, SEQ_SPACE)")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
// Acquires write lock (configMu.Lock) during initialization to prevent concurrent access.
// This is the only function that can set globalConfig.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// InitDefaults installs the built-in defaults without reading a file.
// Used when no config file is present on the device.
func InitDefaults() {
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig = defaults()
	})
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
// Uses read lock (configMu.RLock) to allow multiple concurrent readers without blocking.
// This is thread-safe and efficient for concurrent access across goroutines.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
