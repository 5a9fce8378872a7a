// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guideConfig = `
# position server
SERVER_URL=http://127.0.0.1:5000
FETCH_TIMEOUT = 0

MAC_ANCHOR1=02:00:00:00:00:01
MAC_ANCHOR2=02:00:00:00:00:02
MAC_ANCHOR3=02:00:00:00:00:03
MAC_TAG1=02:00:00:00:00:04
MAC_TAG2=02:00:00:00:00:05

HEADING_SOURCE=i2c
COMPASS_I2C_ADDR=0x0D
COMPASS_DECLINATION=-1.5
GUIDANCE_INTERVAL=250
DISPLAY_ENABLED=true
TOPIC_QR=lab/qr
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anchor_guide_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, guideConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateGuide())

	assert.Equal(t, "http://127.0.0.1:5000", cfg.ServerURL)
	assert.Equal(t, time.Duration(0), cfg.FetchDeadline())
	assert.Equal(t, "02:00:00:00:00:04", cfg.NodeMACs["tag1"])
	assert.Len(t, cfg.NodeMACs, 5)
	assert.Equal(t, HeadingSourceI2C, cfg.HeadingSource)
	assert.Equal(t, uint16(0x0D), cfg.CompassI2CAddr)
	assert.Equal(t, -1.5, cfg.CompassDeclination)
	assert.Equal(t, 250*time.Millisecond, cfg.GuidanceTick())
	assert.True(t, cfg.DisplayEnabled)
	assert.Equal(t, "lab/qr", cfg.TopicQR)

	// untouched keys keep their defaults
	assert.Equal(t, 100*time.Millisecond, cfg.SampleInterval())
	assert.Equal(t, 8080, cfg.WebServerPort)
	assert.Equal(t, "anchor_guide/button", cfg.TopicButton)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "COLOR=blue", `unknown config key: "COLOR"`},
		{"missing equals", "SERVER_URL", "invalid config line 1"},
		{"bad port", "WEB_SERVER_PORT=70000", "WEB_SERVER_PORT must be 1-65535"},
		{"zero interval", "GUIDANCE_INTERVAL=0", "GUIDANCE_INTERVAL must be positive"},
		{"negative timeout", "FETCH_TIMEOUT=-1", "FETCH_TIMEOUT must not be negative"},
		{"bad source", "HEADING_SOURCE=gyro", "HEADING_SOURCE must be one of"},
		{"declination range", "COMPASS_DECLINATION=200", "COMPASS_DECLINATION must be -180..180"},
		{"nmea without port", "HEADING_SOURCE=nmea", "COMPASS_SERIAL_PORT is required"},
		{"mqtt without broker", "HEADING_SOURCE=mqtt", "MQTT_BROKER is required"},
		{"zero calc interval", "CALC_INTERVAL=0", "CALC_INTERVAL must be positive"},
		{"negative calc window", "CALC_WINDOW=-5", "CALC_WINDOW must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorContains(t, err, "failed to open config file")
}

func TestValidateGuide(t *testing.T) {
	cfg := Defaults()
	assert.EqualError(t, cfg.ValidateGuide(), "SERVER_URL is required")

	cfg.ServerURL = "http://positions"
	assert.EqualError(t, cfg.ValidateGuide(), "MAC_ANCHOR1 is required")

	for _, key := range sortedNodeKeys() {
		require.NoError(t, cfg.setValue(key, "aa:bb"))
	}
	cfg.NodeMACs["tag2"] = ""
	assert.EqualError(t, cfg.ValidateGuide(), "MAC_TAG2 is required")
}

func TestCalculatorSettings(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 3*time.Second, cfg.CalcTick())
	assert.Zero(t, cfg.CalcHistory())
	assert.Equal(t, "data", cfg.TopicRanging)
	assert.EqualError(t, cfg.ValidateCalculator(), "MQTT_BROKER is required")

	cfg, err := Load(writeConfig(t, "MQTT_BROKER=tcp://broker:1883\nCALC_INTERVAL=500\nCALC_WINDOW=30000\nTOPIC_RANGING=lab/ranging\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateCalculator())
	assert.Equal(t, 500*time.Millisecond, cfg.CalcTick())
	assert.Equal(t, 30*time.Second, cfg.CalcHistory())
	assert.Equal(t, "lab/ranging", cfg.TopicRanging)
	assert.Equal(t, "anchor-guide-calculator", cfg.MQTTClientIDCalc)

	cfg.TopicRanging = ""
	assert.EqualError(t, cfg.ValidateCalculator(), "TOPIC_RANGING must not be empty")
}
