// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package positiondb stores surveyed device positions and the ranging
// reports tags publish, and serves positions over HTTP to the calibration
// app.
package positiondb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no device matches a query.
var ErrNotFound = errors.New("device not found")

// Device types stored in devices.id_type.
const (
	TypeAnchor = 1 // surveyed, fixed position
	TypeTag    = 2 // position computed from ranging reports
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id        INTEGER PRIMARY KEY,
		mac       TEXT NOT NULL UNIQUE,
		id_type   INTEGER NOT NULL DEFAULT 1,
		positionx REAL NOT NULL,
		positiony REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_tag (
		id          INTEGER PRIMARY KEY,
		id_src      INTEGER NOT NULL REFERENCES devices(id),
		id_dst      INTEGER NOT NULL REFERENCES devices(id),
		distance_cm REAL NOT NULL,
		rtt_ns      REAL,
		received_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS data_tag_received_at ON data_tag (received_at)`,
}

const deviceColumns = `id, mac, id_type, positionx, positiony`

// Device is one surveyed anchor or tag.
type Device struct {
	ID        int64   `json:"id"`
	MAC       string  `json:"mac"`
	Type      int     `json:"id_type"`
	PositionX float64 `json:"positionx"`
	PositionY float64 `json:"positiony"`
}

// Ranging is one averaged tag to anchor measurement.
type Ranging struct {
	SrcMAC     string // tag
	DstMAC     string // anchor
	DistanceCM float64
	RTTNs      float64
	At         time.Time
}

// DB wraps the SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path. Use ":memory:"
// for a throwaway database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open position db %s: %w", path, err)
	}
	// Keep operations serialized; an in-memory database is per connection.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	if err := addTypeColumn(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// addTypeColumn upgrades databases created before devices had id_type.
func addTypeColumn(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('devices') WHERE name = 'id_type'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect devices table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE devices ADD COLUMN id_type INTEGER NOT NULL DEFAULT 1`); err != nil {
		return fmt.Errorf("add devices.id_type: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Upsert inserts a device or replaces the type and position stored for its
// MAC. A zero Type is stored as TypeAnchor.
func (d *DB) Upsert(ctx context.Context, dev Device) error {
	typ := dev.Type
	if typ == 0 {
		typ = TypeAnchor
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO devices (mac, id_type, positionx, positiony) VALUES (?, ?, ?, ?)
		 ON CONFLICT(mac) DO UPDATE SET id_type = excluded.id_type,
		   positionx = excluded.positionx, positiony = excluded.positiony`,
		dev.MAC, typ, dev.PositionX, dev.PositionY)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", dev.MAC, err)
	}
	return nil
}

// ByMAC returns the device with the given hardware address.
func (d *DB) ByMAC(ctx context.Context, mac string) (Device, error) {
	return d.queryOne(ctx, `SELECT `+deviceColumns+` FROM devices WHERE mac = ?`, mac)
}

// ByID returns the device with the given row id.
func (d *DB) ByID(ctx context.Context, id int64) (Device, error) {
	return d.queryOne(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
}

// ByIndex returns the n-th device (1-based) in id order.
func (d *DB) ByIndex(ctx context.Context, n int) (Device, error) {
	if n < 1 {
		return Device{}, ErrNotFound
	}
	return d.queryOne(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id LIMIT 1 OFFSET ?`, n-1)
}

func (d *DB) queryOne(ctx context.Context, query string, arg any) (Device, error) {
	var dev Device
	err := d.db.QueryRowContext(ctx, query, arg).Scan(&dev.ID, &dev.MAC, &dev.Type, &dev.PositionX, &dev.PositionY)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("query device: %w", err)
	}
	return dev, nil
}

// DevicesOfType lists devices of one type in id order.
func (d *DB) DevicesOfType(ctx context.Context, typ int) ([]Device, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id_type = ? ORDER BY id`, typ)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devs []Device
	for rows.Next() {
		var dev Device
		if err := rows.Scan(&dev.ID, &dev.MAC, &dev.Type, &dev.PositionX, &dev.PositionY); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devs = append(devs, dev)
	}
	return devs, rows.Err()
}

// InsertRanging stores one measurement. Both MACs must name known devices
// (compared case-insensitively), otherwise ErrNotFound is returned and
// nothing is stored.
func (d *DB) InsertRanging(ctx context.Context, r Ranging) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO data_tag (id_src, id_dst, distance_cm, rtt_ns, received_at)
		 SELECT s.id, t.id, ?, ?, ? FROM devices s, devices t
		 WHERE s.mac = ? COLLATE NOCASE AND t.mac = ? COLLATE NOCASE`,
		r.DistanceCM, r.RTTNs, r.At.UnixMilli(), r.SrcMAC, r.DstMAC)
	if err != nil {
		return fmt.Errorf("insert ranging %s->%s: %w", r.SrcMAC, r.DstMAC, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert ranging %s->%s: %w", r.SrcMAC, r.DstMAC, err)
	}
	if n == 0 {
		return fmt.Errorf("ranging %s->%s: %w", r.SrcMAC, r.DstMAC, ErrNotFound)
	}
	return nil
}

// MeanDistances averages stored distances per (tag id, anchor id) pair,
// in metres. A zero since averages the whole history.
func (d *DB) MeanDistances(ctx context.Context, since time.Time) (map[int64]map[int64]float64, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixMilli()
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id_src, id_dst, AVG(distance_cm) FROM data_tag
		 WHERE received_at >= ? GROUP BY id_src, id_dst`, from)
	if err != nil {
		return nil, fmt.Errorf("average distances: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[int64]float64)
	for rows.Next() {
		var src, dst int64
		var cm float64
		if err := rows.Scan(&src, &dst, &cm); err != nil {
			return nil, fmt.Errorf("scan distance: %w", err)
		}
		if out[src] == nil {
			out[src] = make(map[int64]float64)
		}
		out[src][dst] = cm / 100
	}
	return out, rows.Err()
}

// PruneRanging deletes measurements received before t and reports how many
// were removed.
func (d *DB) PruneRanging(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM data_tag WHERE received_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune ranging: %w", err)
	}
	return res.RowsAffected()
}

// UpdateTagPosition stores a computed position. Only TypeTag rows are
// touched; anything else yields ErrNotFound.
func (d *DB) UpdateTagPosition(ctx context.Context, id int64, x, y float64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE devices SET positionx = ?, positiony = ? WHERE id = ? AND id_type = ?`,
		x, y, id, TypeTag)
	if err != nil {
		return fmt.Errorf("update tag %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tag %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	return nil
}
