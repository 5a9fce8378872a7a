// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// HeadingSample is the JSON payload a remote device publishes on the
// heading topic.
type HeadingSample struct {
	Heading float64 `json:"heading"`
	Ax      float64 `json:"ax"`
	Ay      float64 `json:"ay"`
	Az      float64 `json:"az"`
	Time    string  `json:"time,omitempty"`
}

// MQTTCompass mirrors the latest heading published by another device.
type MQTTCompass struct {
	client mqtt.Client
	topic  string

	mu      sync.Mutex
	latest  HeadingSample
	have    bool
	started bool
}

// NewMQTTCompass uses an already connected client. client may be nil in
// tests that feed payloads through HandlePayload.
func NewMQTTCompass(client mqtt.Client, topic string) *MQTTCompass {
	return &MQTTCompass{client: client, topic: topic}
}

func (c *MQTTCompass) Available() bool {
	return c.client != nil && c.client.IsConnected()
}

// Enable subscribes to the heading topic.
func (c *MQTTCompass) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if c.client == nil {
		return fmt.Errorf("no mqtt client for %s", c.topic)
	}
	token := c.client.Subscribe(c.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		c.HandlePayload(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, token.Error())
	}
	c.started = true
	log.Printf("compass: subscribed to %s", c.topic)
	return nil
}

// HandlePayload decodes one heading message.
func (c *MQTTCompass) HandlePayload(payload []byte) {
	var s HeadingSample
	if err := json.Unmarshal(payload, &s); err != nil {
		log.Printf("compass: heading unmarshal error: %v", err)
		return
	}
	s.Heading = NormalizeHeading(s.Heading)
	c.mu.Lock()
	c.latest = s
	c.have = true
	c.mu.Unlock()
}

func (c *MQTTCompass) Heading() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.have {
		return 0, errNoHeading
	}
	return c.latest.Heading, nil
}

func (c *MQTTCompass) Acceleration() ([3]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.have {
		return [3]float64{}, errNoHeading
	}
	return [3]float64{c.latest.Ax, c.latest.Ay, c.latest.Az}, nil
}
