// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/anchor_guide/internal/config"
	"github.com/relabs-tech/anchor_guide/internal/heading"
	"github.com/relabs-tech/anchor_guide/internal/sensors"
)

// headingSample reads one compass sample. A missing accelerometer is not
// an error; the acceleration fields stay zero.
func headingSample(sensor heading.Sensor, t time.Time) (sensors.HeadingSample, error) {
	h, err := sensor.Heading()
	if err != nil {
		return sensors.HeadingSample{}, err
	}
	s := sensors.HeadingSample{Heading: h, Time: t.UTC().Format(time.RFC3339Nano)}
	if acc, err := sensor.Acceleration(); err == nil {
		s.Ax, s.Ay, s.Az = acc[0], acc[1], acc[2]
	}
	return s, nil
}

// publishHeading publishes samples from sensor every interval until ctx
// is cancelled.
func publishHeading(ctx context.Context, sensor heading.Sensor, pub Publisher, topic string, clk clock.Clock, interval time.Duration) {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s, err := headingSample(sensor, t)
			if err != nil {
				log.Printf("compass: read error: %v", err)
				continue
			}
			payload, err := json.Marshal(s)
			if err != nil {
				log.Printf("compass: json marshal error: %v", err)
				continue
			}
			if token := pub.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
				log.Printf("MQTT publish error (%s): %v", topic, token.Error())
			}
		}
	}
}

// RunCompassProducer publishes the local compass on the heading topic so
// a guide running with HEADING_SOURCE=mqtt elsewhere can use it.
func RunCompassProducer() error {
	cfg := config.Get()
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required for the compass producer")
	}
	if cfg.HeadingSource == config.HeadingSourceMQTT {
		return errors.New("compass producer needs a local HEADING_SOURCE (mock, nmea or i2c)")
	}

	clk := clock.New()
	sensor, closer, err := openHeadingSensor(cfg, nil, clk)
	if err != nil {
		return fmt.Errorf("heading sensor: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	if !sensor.Available() {
		return heading.ErrSensorUnavailable
	}
	if err := sensor.Enable(); err != nil {
		return fmt.Errorf("enable compass: %w", err)
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("compass: publishing %s source on %s every %s", cfg.HeadingSource, cfg.TopicHeading, cfg.SampleInterval())
	publishHeading(ctx, sensor, client, cfg.TopicHeading, clk, cfg.SampleInterval())
	log.Println("compass: shutting down")
	return nil
}
