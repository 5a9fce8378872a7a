// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
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
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/anchor_guide/internal/config"
	"github.com/relabs-tech/anchor_guide/internal/positiondb"
	"github.com/relabs-tech/anchor_guide/internal/trilateration"
)

// RangingReport is one averaged tag to anchor measurement as published by
// a tag on the ranging topic.
type RangingReport struct {
	MACSrc     string  `json:"mac_src"`
	MACDst     string  `json:"mac_dst"`
	DistanceCM float64 `json:"distance_cm"`
	RTTNs      float64 `json:"rtt_ns"`
}

// parseRangingPayload accepts the JSON array a tag publishes after each
// round, or a single report object.
func parseRangingPayload(payload []byte) ([]RangingReport, error) {
	payload = bytes.TrimSpace(payload)
	var reports []RangingReport
	if bytes.HasPrefix(payload, []byte("{")) {
		var r RangingReport
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode ranging report: %w", err)
		}
		reports = []RangingReport{r}
	} else if err := json.Unmarshal(payload, &reports); err != nil {
		return nil, fmt.Errorf("decode ranging reports: %w", err)
	}

	for i, r := range reports {
		if r.MACSrc == "" || r.MACDst == "" {
			return nil, fmt.Errorf("ranging report %d: missing mac_src or mac_dst", i)
		}
		if r.DistanceCM < 0 {
			return nil, fmt.Errorf("ranging report %d: negative distance %g", i, r.DistanceCM)
		}
	}
	return reports, nil
}

// ingestRanging stores every report in payload. Reports naming unknown
// devices are skipped. It returns how many were stored.
func ingestRanging(ctx context.Context, db *positiondb.DB, payload []byte, at time.Time) (int, error) {
	reports, err := parseRangingPayload(payload)
	if err != nil {
		return 0, err
	}
	stored := 0
	for _, r := range reports {
		err := db.InsertRanging(ctx, positiondb.Ranging{
			SrcMAC:     r.MACSrc,
			DstMAC:     r.MACDst,
			DistanceCM: r.DistanceCM,
			RTTNs:      r.RTTNs,
			At:         at,
		})
		if errors.Is(err, positiondb.ErrNotFound) {
			log.Printf("calculator: skipping %s->%s: unknown device", r.MACSrc, r.MACDst)
			continue
		}
		if err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// rangingHandler stores messages from the ranging topic.
func rangingHandler(ctx context.Context, db *positiondb.DB, clk clock.Clock) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		n, err := ingestRanging(ctx, db, msg.Payload(), clk.Now())
		if err != nil {
			log.Printf("calculator: %s: %v", msg.Topic(), err)
			return
		}
		log.Printf("calculator: stored %d ranging reports from %s", n, msg.Topic())
	}
}

// PositionCalculator trilaterates tag positions from the stored ranging
// history and writes them back to the devices table.
type PositionCalculator struct {
	db  *positiondb.DB
	clk clock.Clock
	// window limits the averaged history. Zero averages everything stored.
	window time.Duration
}

func NewPositionCalculator(db *positiondb.DB, clk clock.Clock, window time.Duration) *PositionCalculator {
	return &PositionCalculator{db: db, clk: clk, window: window}
}

// Compute runs one pass and returns the positions it stored, keyed by tag
// MAC. Tags without three usable anchor distances keep their old position.
func (c *PositionCalculator) Compute(ctx context.Context) (map[string]trilateration.Point, error) {
	anchors, err := c.db.DevicesOfType(ctx, positiondb.TypeAnchor)
	if err != nil {
		return nil, err
	}
	tags, err := c.db.DevicesOfType(ctx, positiondb.TypeTag)
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 || len(tags) == 0 {
		log.Printf("calculator: not enough devices (%d anchors, %d tags)", len(anchors), len(tags))
		return nil, nil
	}

	var since time.Time
	if c.window > 0 {
		since = c.clk.Now().Add(-c.window)
		if n, err := c.db.PruneRanging(ctx, since); err != nil {
			return nil, err
		} else if n > 0 {
			log.Printf("calculator: pruned %d old ranging reports", n)
		}
	}
	distances, err := c.db.MeanDistances(ctx, since)
	if err != nil {
		return nil, err
	}

	out := make(map[string]trilateration.Point)
	for _, tag := range tags {
		var ranges []trilateration.Range
		for _, a := range anchors {
			d, ok := distances[tag.ID][a.ID]
			if !ok {
				continue
			}
			ranges = append(ranges, trilateration.Range{X: a.PositionX, Y: a.PositionY, Distance: d})
		}
		p, err := trilateration.Solve(ranges)
		if err != nil {
			log.Printf("calculator: tag %s: %v", tag.MAC, err)
			continue
		}
		p = trilateration.Point{X: trilateration.Round2(p.X), Y: trilateration.Round2(p.Y)}
		if err := c.db.UpdateTagPosition(ctx, tag.ID, p.X, p.Y); err != nil {
			return out, err
		}
		out[tag.MAC] = p
	}
	return out, nil
}

// Run computes every interval until ctx is cancelled.
func (c *PositionCalculator) Run(ctx context.Context, interval time.Duration) {
	ticker := c.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated, err := c.Compute(ctx)
			if err != nil {
				log.Printf("calculator: %v", err)
				continue
			}
			if len(updated) > 0 {
				log.Printf("calculator: positions updated: %v", updated)
			}
		}
	}
}

// RunPositionCalculator subscribes to tag ranging reports and keeps tag
// positions in the database at POSITION_DB_PATH current.
func RunPositionCalculator() error {
	cfg := config.Get()
	if err := cfg.ValidateCalculator(); err != nil {
		return err
	}

	db, err := positiondb.Open(cfg.PositionDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("calculator: database %s", cfg.PositionDBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDCalc)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	clk := clock.New()
	token := client.Subscribe(cfg.TopicRanging, 1, rangingHandler(ctx, db, clk))
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.TopicRanging, token.Error())
	}
	log.Printf("mqtt: subscribed to %s", cfg.TopicRanging)

	log.Printf("calculator: solving every %s", cfg.CalcTick())
	NewPositionCalculator(db, clk, cfg.CalcHistory()).Run(ctx, cfg.CalcTick())
	log.Println("calculator: shutting down")
	return nil
}
