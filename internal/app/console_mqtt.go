// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/anchor_guide/internal/config"
	"github.com/relabs-tech/anchor_guide/internal/sensors"
)

// formatNotification renders one notification as a console line.
func formatNotification(n Notification) string {
	switch n.Kind {
	case "status":
		return fmt.Sprintf("[STATUS] %s", n.Text)
	case "server_response":
		return fmt.Sprintf("[SERVER] %s", n.Text)
	case "phase":
		return fmt.Sprintf("[PHASE ] %s", n.Text)
	case "node":
		return fmt.Sprintf("[NODE  ] %s enabled=%t", n.Node, n.Enabled != nil && *n.Enabled)
	case "nodes":
		return fmt.Sprintf("[NODES ] all enabled=%t", n.Enabled != nil && *n.Enabled)
	case "rotation":
		if n.Rotation == nil {
			return "[TURN  ] ?"
		}
		return fmt.Sprintf("[TURN  ] %+7.2f°", *n.Rotation)
	case "indicator":
		return fmt.Sprintf("[ARROW ] visible=%t", n.Visible != nil && *n.Visible)
	default:
		return fmt.Sprintf("[%s] %s", n.Kind, n.Text)
	}
}

func printNotification(w io.Writer, payload []byte) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		log.Printf("console: unmarshal error: %v", err)
		return
	}
	fmt.Fprintln(w, formatNotification(n))
}

// RunConsoleMQTT prints every notification the guide publishes.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required for the console")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	topics := []string{cfg.TopicStatus, cfg.TopicPhase, cfg.TopicNodes, cfg.TopicGuidance}
	for _, topic := range topics {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			printNotification(os.Stdout, msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
	}

	// Raw compass samples, when a producer is running
	token := client.Subscribe(cfg.TopicHeading, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s sensors.HeadingSample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: heading unmarshal error: %v", err)
			return
		}
		fmt.Printf("[HEAD  ] %6.2f°  ax=%6.3f ay=%6.3f az=%6.3f\n", s.Heading, s.Ax, s.Ay, s.Az)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicHeading)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
