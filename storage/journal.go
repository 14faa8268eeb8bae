// Package storage provides SQLite persistence for the node's event journal.
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bramblemesh/bramble/state"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Journal records mesh events and periodic stats snapshots so field
// technicians can reconstruct what a node saw between visits.
type Journal struct {
	db      *sql.DB
	session string
}

// Open creates or opens the journal under dataDir and begins a new session.
func Open(dataDir string) (*Journal, error) {
	dbPath := filepath.Join(dataDir, "journal.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, session: uuid.NewString()}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

func (j *Journal) createTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS node_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			node INTEGER NOT NULL,
			event TEXT NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_events_timestamp ON node_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_node_events_node ON node_events(node)`,

		`CREATE TABLE IF NOT EXISTS route_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			destination INTEGER NOT NULL,
			next_hop INTEGER NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_route_changes_timestamp ON route_changes(timestamp)`,

		`CREATE TABLE IF NOT EXISTS partitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			components INTEGER NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS time_source_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			source INTEGER NOT NULL,
			stratum INTEGER NOT NULL,
			offset_us INTEGER NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS stats_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			sent INTEGER, received INTEGER, forwarded INTEGER, dropped INTEGER,
			checksum_failures INTEGER, ack_timeouts INTEGER, route_discoveries INTEGER,
			efficiency REAL,
			known_nodes INTEGER, routes INTEGER, diameter INTEGER, partitions INTEGER,
			stratum INTEGER, synchronized INTEGER,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stats_snapshots_timestamp ON stats_snapshots(timestamp)`,
	}
	for _, table := range tables {
		if _, err := j.db.Exec(table); err != nil {
			return fmt.Errorf("failed to execute: %s: %w", table, err)
		}
	}
	return nil
}

// Session returns the identifier for this boot of the node.
func (j *Journal) Session() string {
	return j.session
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// NodeEvent records a node joining or leaving the mesh.
func (j *Journal) NodeEvent(node state.NodeId, joined bool) error {
	event := "lost"
	if joined {
		event = "joined"
	}
	_, err := j.db.Exec(
		`INSERT INTO node_events (session, node, event) VALUES (?, ?, ?)`,
		j.session, uint32(node), event)
	return err
}

// RouteChange records a routing table update. nextHop of zero means removed.
func (j *Journal) RouteChange(dest, nextHop state.NodeId) error {
	_, err := j.db.Exec(
		`INSERT INTO route_changes (session, destination, next_hop) VALUES (?, ?, ?)`,
		j.session, uint32(dest), uint32(nextHop))
	return err
}

// Partition records a detected topology split.
func (j *Journal) Partition(components int) error {
	_, err := j.db.Exec(
		`INSERT INTO partitions (session, components) VALUES (?, ?)`,
		j.session, components)
	return err
}

// TimeSourceChange records adoption or loss of a time reference.
func (j *Journal) TimeSourceChange(source state.NodeId, stratum uint8, offset time.Duration) error {
	_, err := j.db.Exec(
		`INSERT INTO time_source_changes (session, source, stratum, offset_us) VALUES (?, ?, ?, ?)`,
		j.session, uint32(source), stratum, offset.Microseconds())
	return err
}

// RecordSnapshot persists one stats snapshot row.
func (j *Journal) RecordSnapshot(snap state.StatsSnapshot) error {
	_, err := j.db.Exec(
		`INSERT INTO stats_snapshots (
			session, sent, received, forwarded, dropped,
			checksum_failures, ack_timeouts, route_discoveries, efficiency,
			known_nodes, routes, diameter, partitions, stratum, synchronized
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.session, snap.Sent, snap.Received, snap.Forwarded, snap.Dropped,
		snap.ChecksumFailures, snap.AckTimeouts, snap.RouteDiscoveries, snap.Efficiency,
		snap.KnownNodes, snap.Routes, snap.Diameter, snap.Partitions,
		snap.Stratum, boolToInt(snap.Synchronized))
	return err
}

// RecentEvents returns up to limit journal lines across event tables,
// newest first, formatted for the inspect command.
func (j *Journal) RecentEvents(limit int) ([]string, error) {
	rows, err := j.db.Query(`
		SELECT timestamp, 'node ' || node || ' ' || event FROM node_events
		UNION ALL
		SELECT timestamp, 'partition into ' || components || ' components' FROM partitions
		UNION ALL
		SELECT timestamp, 'time source ' || source || ' stratum ' || stratum FROM time_source_changes
		ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ts, line string
		if err := rows.Scan(&ts, &line); err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(ts+"  "+line))
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
