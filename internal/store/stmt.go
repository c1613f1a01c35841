package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Op identifies one of the fixed set of prepared queries a Store uses.
// Statements are prepared lazily on first use and retained for the lifetime
// of the Store; preparation failure is fatal for the handle.
type Op int

const (
	OpInsertData Op = iota
	OpUpsertPath
	OpGetPath
	OpGetPathDataID
	OpGetIdentity
	OpGetUnique
	OpGetDataRow
	OpUpdateData
	OpAllEntries
	OpRangeEntries
	OpNotScanned
	OpSetAllUnscanned
	OpDisableScanned
	OpDeleteUnscanned
	OpPathCount
	OpDeletePath
	OpDeletePathIdentity
	OpDeleteDataID
	OpDeleteDataIdentity
	OpCountEntries
	opCount
)

const entryColumns = `p.path, p.data_id, p.scanned, p.last_event,
	d.dev, d.inode, d.size, d.mode, d.uid, d.gid, d.user_name, d.group_name,
	d.hash_blake3, d.hash_sha256, d.mtime`

const entryJoin = `FROM entry_path p JOIN entry_data d ON p.data_id = d.id`

// queries maps each Op to its SQL text. The two-table model: entry_data holds
// content identity (shared by hardlinks), entry_path holds one row per path.
var queries = [opCount]string{
	OpInsertData: `INSERT INTO entry_data
		(dev, inode, size, mode, uid, gid, user_name, group_name,
		 hash_blake3, hash_sha256, mtime, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	OpUpsertPath: `INSERT INTO entry_path (path, data_id, scanned, last_event)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			data_id = excluded.data_id,
			scanned = 1,
			last_event = excluded.last_event`,
	OpGetPath:       `SELECT ` + entryColumns + ` ` + entryJoin + ` WHERE p.path = ?`,
	OpGetPathDataID: `SELECT data_id FROM entry_path WHERE path = ?`,
	OpGetIdentity: `SELECT ` + entryColumns + ` ` + entryJoin + `
		WHERE d.inode = ? AND d.dev = ? ORDER BY p.path ASC LIMIT 1`,
	OpGetUnique: `SELECT ` + entryColumns + ` ` + entryJoin + `
		WHERE p.path = ? AND d.inode = ? AND d.dev = ?`,
	OpGetDataRow: `SELECT id, fingerprint FROM entry_data WHERE inode = ? AND dev = ?`,
	OpUpdateData: `UPDATE entry_data SET
		size = ?, mode = ?, uid = ?, gid = ?, user_name = ?, group_name = ?,
		hash_blake3 = ?, hash_sha256 = ?, mtime = ?, fingerprint = ?
		WHERE inode = ? AND dev = ?`,
	OpAllEntries: `SELECT ` + entryColumns + ` ` + entryJoin + ` ORDER BY p.path ASC`,
	OpRangeEntries: `SELECT ` + entryColumns + ` ` + entryJoin + `
		WHERE p.path >= ? AND p.path <= ? ORDER BY p.path ASC`,
	OpNotScanned: `SELECT ` + entryColumns + ` ` + entryJoin + `
		WHERE p.scanned = 0 ORDER BY p.path ASC`,
	OpSetAllUnscanned: `UPDATE entry_path SET scanned = 0`,
	OpDisableScanned:  `UPDATE entry_path SET scanned = 0 WHERE path = ?`,
	OpDeleteUnscanned: `DELETE FROM entry_path WHERE scanned = 0`,
	OpPathCount:       `SELECT COUNT(*) FROM entry_path WHERE data_id = ?`,
	OpDeletePath:      `DELETE FROM entry_path WHERE path = ?`,
	OpDeletePathIdentity: `DELETE FROM entry_path WHERE data_id IN
		(SELECT id FROM entry_data WHERE inode = ? AND dev = ?)`,
	OpDeleteDataID:       `DELETE FROM entry_data WHERE id = ?`,
	OpDeleteDataIdentity: `DELETE FROM entry_data WHERE inode = ? AND dev = ?`,
	OpCountEntries:       `SELECT COUNT(*) FROM entry_path`,
}

// Stmt returns the cached prepared statement for op, preparing it on first
// use. Returns nil if op is out of range or preparation fails; a preparation
// failure also poisons the store handle so subsequent operations error out.
func (s *Store) Stmt(op Op) *sql.Stmt {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stmt(op)
	if err != nil {
		return nil
	}
	return st
}

// stmt is the internal accessor. Callers must hold s.mu. Statements are
// prepared on the pinned connection so they execute inside the open batch
// transaction.
func (s *Store) stmt(op Op) (*sql.Stmt, error) {
	if op < 0 || op >= opCount {
		return nil, fmt.Errorf("statement index %d out of range", op)
	}
	if s.closed {
		return nil, ErrClosed
	}
	if s.broken != nil {
		return nil, s.broken
	}
	if st := s.stmts[op]; st != nil {
		return st, nil
	}
	st, err := s.conn.PrepareContext(context.Background(), queries[op])
	if err != nil {
		// Schema mismatch or corruption. Fatal for this handle.
		s.broken = fmt.Errorf("prepare statement %d: %w", op, err)
		return nil, s.broken
	}
	s.stmts[op] = st
	return st, nil
}

// closeStmts finalizes every cached statement. Called from Close and Clean.
func (s *Store) closeStmts() {
	for i, st := range s.stmts {
		if st != nil {
			_ = st.Close()
			s.stmts[i] = nil
		}
	}
}
