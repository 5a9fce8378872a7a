// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/relabs-tech/anchor_guide/internal/config"
	"github.com/relabs-tech/anchor_guide/internal/positiondb"
)

// SeedDevices reads "mac,positionx,positiony[,id_type]" rows and upserts
// them. Rows without id_type are anchors. Blank lines and lines starting
// with # are skipped.
func SeedDevices(ctx context.Context, db *positiondb.DB, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	n := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("seed: %w", err)
		}
		if len(rec) != 3 && len(rec) != 4 {
			return n, fmt.Errorf("seed: %s: want 3 or 4 fields, got %d", rec[0], len(rec))
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return n, fmt.Errorf("seed %s: positionx: %w", rec[0], err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return n, fmt.Errorf("seed %s: positiony: %w", rec[0], err)
		}
		dev := positiondb.Device{MAC: strings.TrimSpace(rec[0]), Type: positiondb.TypeAnchor, PositionX: x, PositionY: y}
		if len(rec) == 4 {
			typ, err := strconv.Atoi(strings.TrimSpace(rec[3]))
			if err != nil || (typ != positiondb.TypeAnchor && typ != positiondb.TypeTag) {
				return n, fmt.Errorf("seed %s: id_type must be %d or %d, got %q", rec[0], positiondb.TypeAnchor, positiondb.TypeTag, rec[3])
			}
			dev.Type = typ
		}
		if err := db.Upsert(ctx, dev); err != nil {
			return n, err
		}
		n++
	}
}

// RunPositionServer serves surveyed device positions from the SQLite
// database at POSITION_DB_PATH. seedPath, if set, is loaded first.
func RunPositionServer(seedPath string) error {
	cfg := config.Get()

	db, err := positiondb.Open(cfg.PositionDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("position server: database %s", cfg.PositionDBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if seedPath != "" {
		f, err := os.Open(seedPath)
		if err != nil {
			return fmt.Errorf("open seed file: %w", err)
		}
		n, err := SeedDevices(ctx, db, f)
		f.Close()
		if err != nil {
			return err
		}
		log.Printf("position server: seeded %d devices from %s", n, seedPath)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.PositionServerPort),
		Handler: positiondb.Handler(db),
	}
	go func() {
		<-ctx.Done()
		log.Println("position server: shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Printf("position server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
