// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/anchor_guide/internal/config"
	"github.com/relabs-tech/anchor_guide/internal/heading"
	"github.com/relabs-tech/anchor_guide/internal/orchestrator"
	"github.com/relabs-tech/anchor_guide/internal/orientation"
	"github.com/relabs-tech/anchor_guide/internal/positions"
	"github.com/relabs-tech/anchor_guide/internal/sensors"
	"github.com/relabs-tech/anchor_guide/internal/ui"
)

const shutdownTimeout = 5 * time.Second

// SensorReading is served on /api/sensor.
type SensorReading struct {
	Heading float64          `json:"heading"`
	Pose    orientation.Pose `json:"pose"`
	HasPose bool             `json:"has_pose"`
	Level   bool             `json:"level"`
}

// SensorReader is the part of heading.Recorder the sensor endpoint reads.
type SensorReader interface {
	CurrentHeading() float64
	Acceleration() ([3]float64, error)
}

// StateReport is served on /api/state.
type StateReport struct {
	Session orchestrator.Snapshot `json:"session"`
	UI      ui.State              `json:"ui"`
}

// openHeadingSensor picks the compass named by HEADING_SOURCE. client is
// only used for the mqtt source.
func openHeadingSensor(cfg *config.Config, client mqtt.Client, clk clock.Clock) (heading.Sensor, io.Closer, error) {
	switch cfg.HeadingSource {
	case config.HeadingSourceMock:
		log.Println("guide: using mock compass")
		return sensors.NewMockCompass(clk, 0, 2), nil, nil
	case config.HeadingSourceNMEA:
		c := sensors.NewNMEACompass(cfg.CompassSerialPort, uint(cfg.CompassBaudRate))
		return c, c, nil
	case config.HeadingSourceI2C:
		c, err := sensors.OpenI2CCompass(cfg.CompassI2CBus, cfg.CompassI2CAddr, cfg.CompassDeclination)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case config.HeadingSourceMQTT:
		if client == nil {
			return nil, nil, errors.New("HEADING_SOURCE=mqtt needs MQTT_BROKER")
		}
		return sensors.NewMQTTCompass(client, cfg.TopicHeading), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown heading source %q", cfg.HeadingSource)
	}
}

// RunGuide runs the calibration app: compass, orchestrator, operator web
// console, and the optional MQTT bridge and OLED display.
func RunGuide() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}
	if err := cfg.ValidateGuide(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()

	var client mqtt.Client
	if cfg.MQTTBroker != "" {
		c, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDGuide)
		if err != nil {
			return err
		}
		client = c
		defer client.Disconnect(250)
	}

	sensor, closer, err := openHeadingSensor(cfg, client, clk)
	if err != nil {
		return fmt.Errorf("heading sensor: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	recorder := heading.NewRecorder(sensor, clk, cfg.SampleInterval())

	hub := NewHub()
	sinks := ui.Multi{ui.LogSink{}, hub}

	var orch *orchestrator.Orchestrator
	session := func() string { return orch.Snapshot().SessionID }
	if client != nil {
		sinks = append(sinks, NewMQTTSink(client, cfg, session))
	}

	var display *DisplaySink
	if cfg.DisplayEnabled {
		dev, closeBus, err := OpenDisplay(cfg.DisplayI2CBus)
		if err != nil {
			log.Printf("guide: display disabled: %v", err)
		} else {
			defer closeBus()
			display = NewDisplaySink(dev, clk, time.Duration(cfg.DisplayUpdateInterval)*time.Millisecond)
			sinks = append(sinks, display)
		}
	}

	orch = orchestrator.New(orchestrator.Options{
		Nodes:            positions.Directory(cfg.NodeMACs),
		Fetcher:          positions.NewHTTPFetcher(cfg.ServerURL, nil),
		Recorder:         recorder,
		Sink:             sinks,
		Clock:            clk,
		GuidanceInterval: cfg.GuidanceTick(),
		FetchTimeout:     cfg.FetchDeadline(),
	})
	hub.SetController(orch)

	if client != nil {
		if err := subscribeInputs(client, cfg, orch); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: newGuideMux(hub, orch, recorder),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := orch.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if display != nil {
		g.Go(func() error { return display.Run(gctx) })
	}
	g.Go(func() error {
		log.Printf("web server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("guide: shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// newGuideMux serves the operator console and its JSON endpoints.
func newGuideMux(hub *Hub, ctrl Controller, sensor SensorReader) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws/operator", hub.HandleOperatorWS)

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, StateReport{Session: ctrl.Snapshot(), UI: hub.State()})
	})

	mux.HandleFunc("/api/sensor", func(w http.ResponseWriter, r *http.Request) {
		reading := SensorReading{Heading: sensor.CurrentHeading()}
		if acc, err := sensor.Acceleration(); err == nil {
			reading.Pose = orientation.ComputePoseFromAccel(acc[0], acc[1], acc[2]).WithYaw(reading.Heading)
			reading.HasPose = true
			reading.Level = reading.Pose.Level(orientation.DefaultLevelTolerance)
		}
		writeJSON(w, reading)
	})

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}
