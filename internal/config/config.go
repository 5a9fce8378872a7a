// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Heading sources selectable with HEADING_SOURCE.
const (
	HeadingSourceMock = "mock"
	HeadingSourceNMEA = "nmea"
	HeadingSourceI2C  = "i2c"
	HeadingSourceMQTT = "mqtt"
)

// Config holds all application configuration values.
type Config struct {
	// Position server
	ServerURL          string
	FetchTimeout       int // milliseconds, 0 disables the local deadline
	PositionDBPath     string
	PositionServerPort int

	// Position calculator
	CalcInterval int // milliseconds between trilateration passes
	CalcWindow   int // milliseconds of ranging history averaged, 0 keeps all

	// Node MAC addresses, keyed by node identifier
	NodeMACs map[string]string

	// Heading sensor
	HeadingSource         string
	HeadingSampleInterval int // milliseconds
	GuidanceInterval      int // milliseconds
	CompassSerialPort     string
	CompassBaudRate       int
	CompassI2CBus         string
	CompassI2CAddr        uint16
	CompassDeclination    float64

	// MQTT
	MQTTBroker           string
	MQTTClientIDGuide    string
	MQTTClientIDConsole  string
	MQTTClientIDProducer string
	MQTTClientIDCalc     string

	// Topics
	TopicStatus   string
	TopicPhase    string
	TopicGuidance string
	TopicNodes    string
	TopicQR       string
	TopicButton   string
	TopicHeading  string
	TopicRanging  string

	// Web Server
	WebServerPort int

	// Display
	DisplayEnabled        bool
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds
}

// nodeKeys maps MAC_* config keys to node identifiers.
var nodeKeys = map[string]string{
	"MAC_ANCHOR1": "anchor1",
	"MAC_ANCHOR2": "anchor2",
	"MAC_ANCHOR3": "anchor3",
	"MAC_TAG1":    "tag1",
	"MAC_TAG2":    "tag2",
}

// Package-level unexported variables for the singleton:
//   - globalConfig is only reachable through InitGlobal and Get.
//   - configOnce makes InitGlobal run once.
//   - configMu guards reads against the one-time write.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a Config with every optional value filled in.
func Defaults() *Config {
	return &Config{
		FetchTimeout:          5000,
		PositionDBPath:        "positions.db",
		PositionServerPort:    5000,
		CalcInterval:          3000,
		NodeMACs:              make(map[string]string),
		HeadingSource:         HeadingSourceMock,
		HeadingSampleInterval: 100,
		GuidanceInterval:      100,
		CompassBaudRate:       4800,
		CompassI2CAddr:        0x1E,
		MQTTClientIDGuide:     "anchor-guide",
		MQTTClientIDConsole:   "anchor-guide-console",
		MQTTClientIDProducer:  "anchor-guide-compass",
		MQTTClientIDCalc:      "anchor-guide-calculator",
		TopicStatus:           "anchor_guide/status",
		TopicPhase:            "anchor_guide/phase",
		TopicGuidance:         "anchor_guide/guidance",
		TopicNodes:            "anchor_guide/nodes",
		TopicQR:               "anchor_guide/qr",
		TopicButton:           "anchor_guide/button",
		TopicHeading:          "anchor_guide/heading",
		TopicRanging:          "data",
		WebServerPort:         8080,
		DisplayUpdateInterval: 200,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
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
	if node, ok := nodeKeys[key]; ok {
		c.NodeMACs[node] = value
		return nil
	}

	switch key {
	// Position server
	case "SERVER_URL":
		c.ServerURL = value
	case "FETCH_TIMEOUT":
		return setNonNegativeInt(&c.FetchTimeout, key, value)
	case "POSITION_DB_PATH":
		c.PositionDBPath = value
	case "POSITION_SERVER_PORT":
		return setPort(&c.PositionServerPort, key, value)

	// Position calculator
	case "CALC_INTERVAL":
		return setPositiveInt(&c.CalcInterval, key, value)
	case "CALC_WINDOW":
		return setNonNegativeInt(&c.CalcWindow, key, value)

	// Heading sensor
	case "HEADING_SOURCE":
		switch value {
		case HeadingSourceMock, HeadingSourceNMEA, HeadingSourceI2C, HeadingSourceMQTT:
			c.HeadingSource = value
		default:
			return fmt.Errorf("HEADING_SOURCE must be one of mock, nmea, i2c, mqtt, got %q", value)
		}
	case "HEADING_SAMPLE_INTERVAL":
		return setPositiveInt(&c.HeadingSampleInterval, key, value)
	case "GUIDANCE_INTERVAL":
		return setPositiveInt(&c.GuidanceInterval, key, value)
	case "COMPASS_SERIAL_PORT":
		c.CompassSerialPort = value
	case "COMPASS_BAUD_RATE":
		return setPositiveInt(&c.CompassBaudRate, key, value)
	case "COMPASS_I2C_BUS":
		c.CompassI2CBus = value
	case "COMPASS_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid COMPASS_I2C_ADDR %q: %w", value, err)
		}
		c.CompassI2CAddr = uint16(addr)
	case "COMPASS_DECLINATION":
		deg, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid COMPASS_DECLINATION %q: %w", value, err)
		}
		if deg < -180 || deg > 180 {
			return fmt.Errorf("COMPASS_DECLINATION must be -180..180, got %g", deg)
		}
		c.CompassDeclination = deg

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_GUIDE":
		c.MQTTClientIDGuide = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CALC":
		c.MQTTClientIDCalc = value

	// Topics
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_PHASE":
		c.TopicPhase = value
	case "TOPIC_GUIDANCE":
		c.TopicGuidance = value
	case "TOPIC_NODES":
		c.TopicNodes = value
	case "TOPIC_QR":
		c.TopicQR = value
	case "TOPIC_BUTTON":
		c.TopicButton = value
	case "TOPIC_HEADING":
		c.TopicHeading = value
	case "TOPIC_RANGING":
		c.TopicRanging = value

	// Web Server
	case "WEB_SERVER_PORT":
		return setPort(&c.WebServerPort, key, value)

	// Display
	case "DISPLAY_ENABLED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_ENABLED %q: %w", value, err)
		}
		c.DisplayEnabled = b
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		return setPositiveInt(&c.DisplayUpdateInterval, key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setPositiveInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, n)
	}
	*dst = n
	return nil
}

func setNonNegativeInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < 0 {
		return fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	*dst = n
	return nil
}

func setPort(dst *int, key, value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	*dst = port
	return nil
}

// validate checks fields that every program needs consistent.
func (c *Config) validate() error {
	switch c.HeadingSource {
	case HeadingSourceNMEA:
		if c.CompassSerialPort == "" {
			return fmt.Errorf("COMPASS_SERIAL_PORT is required for HEADING_SOURCE=nmea")
		}
	case HeadingSourceMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required for HEADING_SOURCE=mqtt")
		}
	}
	return nil
}

// ValidateGuide checks the fields the calibration app cannot run without.
func (c *Config) ValidateGuide() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	for _, key := range sortedNodeKeys() {
		if c.NodeMACs[nodeKeys[key]] == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	return nil
}

func sortedNodeKeys() []string {
	keys := make([]string, 0, len(nodeKeys))
	for k := range nodeKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateCalculator checks the fields the position calculator needs.
func (c *Config) ValidateCalculator() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicRanging == "" {
		return fmt.Errorf("TOPIC_RANGING must not be empty")
	}
	return nil
}

// CalcTick returns CALC_INTERVAL as a duration.
func (c *Config) CalcTick() time.Duration {
	return time.Duration(c.CalcInterval) * time.Millisecond
}

// CalcHistory returns CALC_WINDOW as a duration.
func (c *Config) CalcHistory() time.Duration {
	return time.Duration(c.CalcWindow) * time.Millisecond
}

// SampleInterval returns HEADING_SAMPLE_INTERVAL as a duration.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.HeadingSampleInterval) * time.Millisecond
}

// GuidanceTick returns GUIDANCE_INTERVAL as a duration.
func (c *Config) GuidanceTick() time.Duration {
	return time.Duration(c.GuidanceInterval) * time.Millisecond
}

// FetchDeadline returns FETCH_TIMEOUT as a duration.
func (c *Config) FetchDeadline() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
