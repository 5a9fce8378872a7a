// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/anchor_guide/internal/config"
)

const publishTimeout = 2 * time.Second

var errEmptyNode = errors.New("empty node payload")

// Notification is the JSON payload published for every UI notification.
type Notification struct {
	Session  string   `json:"session,omitempty"`
	Kind     string   `json:"kind"` // status, server_response, phase, node, nodes, rotation, indicator
	Text     string   `json:"text,omitempty"`
	Node     string   `json:"node,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	Visible  *bool    `json:"visible,omitempty"`
	Time     string   `json:"time"`
}

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes UI notifications so remote consoles can follow a
// session. It implements ui.Sink.
type MQTTSink struct {
	pub     Publisher
	cfg     *config.Config
	session func() string
	now     func() time.Time
}

// NewMQTTSink publishes on the topics named in cfg. session, if non-nil,
// tags every message with the current session id.
func NewMQTTSink(pub Publisher, cfg *config.Config, session func() string) *MQTTSink {
	return &MQTTSink{pub: pub, cfg: cfg, session: session, now: time.Now}
}

func (s *MQTTSink) publish(topic string, retained bool, n Notification) {
	if s.session != nil {
		n.Session = s.session()
	}
	n.Time = s.now().Format(time.RFC3339Nano)
	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("mqtt: json marshal error (%s): %v", n.Kind, err)
		return
	}
	token := s.pub.Publish(topic, 0, retained, payload)
	// Called from the orchestrator loop, so only wait off-loop.
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: publish timeout (%s)", topic)
			return
		}
		if token.Error() != nil {
			log.Printf("mqtt: publish error (%s): %v", topic, token.Error())
		}
	}()
}

func (s *MQTTSink) Status(text string) {
	s.publish(s.cfg.TopicStatus, true, Notification{Kind: "status", Text: text})
}

func (s *MQTTSink) ServerResponse(text string) {
	s.publish(s.cfg.TopicStatus, false, Notification{Kind: "server_response", Text: text})
}

func (s *MQTTSink) Phase(phase string) {
	s.publish(s.cfg.TopicPhase, true, Notification{Kind: "phase", Text: phase})
}

func (s *MQTTSink) NodeEnabled(node string, enabled bool) {
	s.publish(s.cfg.TopicNodes, false, Notification{Kind: "node", Node: node, Enabled: &enabled})
}

func (s *MQTTSink) AllNodesEnabled(enabled bool) {
	s.publish(s.cfg.TopicNodes, false, Notification{Kind: "nodes", Enabled: &enabled})
}

func (s *MQTTSink) IndicatorRotation(degrees float64) {
	s.publish(s.cfg.TopicGuidance, false, Notification{Kind: "rotation", Rotation: &degrees})
}

func (s *MQTTSink) IndicatorVisible(visible bool) {
	s.publish(s.cfg.TopicGuidance, true, Notification{Kind: "indicator", Visible: &visible})
}

// connectMQTT connects with auto-reconnect. The broker keeps the session,
// so subscriptions survive a reconnect.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetKeepAlive(60 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetCleanSession(false).
		SetResumeSubs(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}
	log.Printf("mqtt: connected to broker at %s as %s", broker, clientID)
	return client, nil
}

// nodeMessage is the JSON form of a QR or button message. A bare node id
// is accepted too.
type nodeMessage struct {
	Node string `json:"node"`
}

func parseNodePayload(payload []byte) (string, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var m nodeMessage
		if err := json.Unmarshal([]byte(text), &m); err != nil {
			return "", fmt.Errorf("decode node message: %w", err)
		}
		text = strings.TrimSpace(m.Node)
	}
	if text == "" {
		return "", errEmptyNode
	}
	return text, nil
}

// subscribeInputs forwards scanner and button messages to ctrl.
func subscribeInputs(client mqtt.Client, cfg *config.Config, ctrl Controller) error {
	handlers := map[string]func(string){
		cfg.TopicQR:     ctrl.QRDetected,
		cfg.TopicButton: ctrl.ButtonPressed,
	}
	for topic, fn := range handlers {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			node, err := parseNodePayload(msg.Payload())
			if err != nil {
				log.Printf("mqtt: %s: %v", topic, err)
				return
			}
			fn(node)
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		log.Printf("mqtt: subscribed to %s", topic)
	}
	return nil
}
