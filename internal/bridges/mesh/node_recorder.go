package mesh

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// NodeRecord is one row of the mesh_nodes table.
type NodeRecord struct {
	Address         Address
	NodeID          *uint64
	Frames          int64
	Rejected        int64
	LastType        byte
	LastTemperature *uint64
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Ensure NodeRecorder implements FrameRecorder.
var _ FrameRecorder = (*NodeRecorder)(nil)

// NodeRecorder passively records which mesh addresses the bridge hears
// from. It is called by the ingest adapter for every consumed frame,
// building a table of known nodes over time.
//
// Thread Safety: All methods are safe for concurrent use.
type NodeRecorder struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time

	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// NewNodeRecorder creates a recorder. The database must have the
// mesh_nodes table created.
func NewNodeRecorder(db *sql.DB) *NodeRecorder {
	return &NodeRecorder{db: db, now: time.Now}
}

// SetLogger sets the logger for the recorder.
func (r *NodeRecorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the recorder for use.
// Must be called before RecordFrame.
func (r *NodeRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO mesh_nodes (address, node_id, frames, rejected, last_type, last_temperature, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			node_id = COALESCE(excluded.node_id, node_id),
			frames = frames + 1,
			rejected = rejected + excluded.rejected,
			last_type = excluded.last_type,
			last_temperature = COALESCE(excluded.last_temperature, last_temperature),
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("preparing node upsert statement: %w", err)
	}

	r.upsertStmt = stmt
	r.log("node recorder started")
	return nil
}

// Stop closes the recorder and releases resources.
func (r *NodeRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
	}
	r.log("node recorder stopped")
}

// RecordFrame upserts the sending node. reading is nil for rejected
// frames, which bump the rejected counter instead of the reading columns.
func (r *NodeRecorder) RecordFrame(from Address, frameType byte, reading *SensorRecord) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	stmt := r.upsertStmt
	r.stmtMu.Unlock()
	if stmt == nil {
		return
	}

	var nodeID, temperature any
	rejected := 1
	if reading != nil {
		// uint64 columns are stored as their int64 bit pattern.
		nodeID = int64(reading.NodeID)
		temperature = int64(reading.Temperature)
		rejected = 0
	}

	now := r.now().Unix()
	if _, err := stmt.Exec(int64(from), nodeID, rejected, int64(frameType), temperature, now, now); err != nil {
		r.logError("recording node", err)
	}
}

// Nodes returns every known node ordered by address.
func (r *NodeRecorder) Nodes(ctx context.Context) ([]NodeRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, node_id, frames, rejected, last_type, last_temperature, first_seen, last_seen
		FROM mesh_nodes ORDER BY address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []NodeRecord
	for rows.Next() {
		var (
			n                   NodeRecord
			addr, lastType      int64
			nodeID, temperature sql.NullInt64
			firstSeen, lastSeen int64
		)
		if err := rows.Scan(&addr, &nodeID, &n.Frames, &n.Rejected, &lastType, &temperature, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		n.Address = Address(addr)
		n.LastType = byte(lastType)
		n.FirstSeen = time.Unix(firstSeen, 0)
		n.LastSeen = time.Unix(lastSeen, 0)
		if nodeID.Valid {
			v := uint64(nodeID.Int64)
			n.NodeID = &v
		}
		if temperature.Valid {
			v := uint64(temperature.Int64)
			n.LastTemperature = &v
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// NodeCount returns the number of known nodes.
func (r *NodeRecorder) NodeCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mesh_nodes`).Scan(&count)
	return count, err
}

// log logs an info message if logger is set.
func (r *NodeRecorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (r *NodeRecorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
