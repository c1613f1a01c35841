package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one joined path+data row. Column order must match
// entryColumns in stmt.go.
func scanEntry(row rowScanner) (Entry, error) {
	var (
		e          Entry
		scanned    int64
		lastEvent  int64
		dev, inode int64
	)
	err := row.Scan(
		&e.Path, &e.DataID, &scanned, &lastEvent,
		&dev, &inode, &e.Attrs.Size, &e.Attrs.Mode,
		&e.Attrs.UID, &e.Attrs.GID, &e.Attrs.UserName, &e.Attrs.GroupName,
		&e.Attrs.BLAKE3, &e.Attrs.SHA256, &e.Attrs.ModTime,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Scanned = scanned != 0
	e.LastEvent = time.Unix(lastEvent, 0)
	e.Attrs.Identity = Identity{Dev: uint64(dev), Ino: uint64(inode)}
	return e, nil
}

// Insert records an observation of path with the given content attributes.
// Hardlinks are de-duplicated: if a data row already exists for the same
// (inode, device) identity it is reused, updated in place only when the
// attributes actually changed. The path row is upserted and marked scanned.
// Inserting an unchanged (path, attrs) pair twice is a no-op.
func (s *Store) Insert(path string, attrs Attrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataID, err := s.resolveDataRow(attrs)
	if err != nil {
		return err
	}

	// Remember the previous mapping so a path recreated with a new identity
	// does not strand its old data row.
	oldID, hadOld, err := s.pathDataID(path)
	if err != nil {
		return err
	}

	upsert, err := s.stmt(OpUpsertPath)
	if err != nil {
		return err
	}
	if _, err := upsert.ExecContext(context.Background(), path, dataID, time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert path %s: %w", path, err)
	}

	if hadOld && oldID != dataID {
		if err := s.deleteDataIfOrphaned(oldID); err != nil {
			return err
		}
	}
	return nil
}

// resolveDataRow returns the id of the data row matching attrs' identity,
// creating or updating it as needed. Callers must hold s.mu.
func (s *Store) resolveDataRow(attrs Attrs) (int64, error) {
	get, err := s.stmt(OpGetDataRow)
	if err != nil {
		return 0, err
	}

	var (
		id          int64
		fingerprint int64
	)
	row := get.QueryRowContext(context.Background(),
		int64(attrs.Identity.Ino), int64(attrs.Identity.Dev))
	switch err := row.Scan(&id, &fingerprint); {
	case errors.Is(err, sql.ErrNoRows):
		return s.insertDataRow(attrs)
	case err != nil:
		return 0, fmt.Errorf("lookup data row: %w", err)
	}

	if uint64(fingerprint) == attrs.Fingerprint() {
		return id, nil
	}

	update, err := s.stmt(OpUpdateData)
	if err != nil {
		return 0, err
	}
	if _, err := update.ExecContext(context.Background(),
		attrs.Size, attrs.Mode, attrs.UID, attrs.GID,
		attrs.UserName, attrs.GroupName,
		attrs.BLAKE3, attrs.SHA256, attrs.ModTime, int64(attrs.Fingerprint()),
		int64(attrs.Identity.Ino), int64(attrs.Identity.Dev)); err != nil {
		return 0, fmt.Errorf("update data row: %w", err)
	}
	return id, nil
}

func (s *Store) insertDataRow(attrs Attrs) (int64, error) {
	insert, err := s.stmt(OpInsertData)
	if err != nil {
		return 0, err
	}
	res, err := insert.ExecContext(context.Background(),
		int64(attrs.Identity.Dev), int64(attrs.Identity.Ino),
		attrs.Size, attrs.Mode, attrs.UID, attrs.GID,
		attrs.UserName, attrs.GroupName,
		attrs.BLAKE3, attrs.SHA256, attrs.ModTime, int64(attrs.Fingerprint()))
	if err != nil {
		return 0, fmt.Errorf("insert data row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("data row id: %w", err)
	}
	return id, nil
}

// Update rewrites the attributes of the data row matching the identity.
// Every path hardlinked to that identity observes the change. Returns
// ErrNotFound if no data row matches; callers must Insert first.
func (s *Store) Update(ino, dev uint64, attrs Attrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	update, err := s.stmt(OpUpdateData)
	if err != nil {
		return err
	}
	res, err := update.ExecContext(context.Background(),
		attrs.Size, attrs.Mode, attrs.UID, attrs.GID,
		attrs.UserName, attrs.GroupName,
		attrs.BLAKE3, attrs.SHA256, attrs.ModTime, int64(attrs.Fingerprint()),
		int64(ino), int64(dev))
	if err != nil {
		return fmt.Errorf("update identity (%d, %d): %w", ino, dev, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity (%d, %d): %w", ino, dev, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPath looks up the entry for an exact path.
func (s *Store) GetPath(path string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEntry(OpGetPath, path)
}

// GetIdentity looks up an entry by content identity. When several paths
// hardlink the same inode, the lexicographically first path is returned.
func (s *Store) GetIdentity(ino, dev uint64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEntry(OpGetIdentity, int64(ino), int64(dev))
}

// GetUnique looks up an entry by the combined (path, inode, device)
// predicate, disambiguating a path that may have been recreated with a
// different identity.
func (s *Store) GetUnique(path string, ino, dev uint64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEntry(OpGetUnique, path, int64(ino), int64(dev))
}

func (s *Store) getEntry(op Op, args ...any) (Entry, error) {
	get, err := s.stmt(op)
	if err != nil {
		return Entry{}, err
	}
	e, err := scanEntry(get.QueryRowContext(context.Background(), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup entry: %w", err)
	}
	return e, nil
}

// RemovePath deletes the path row and, when it was the last referencer,
// the data row it pointed at. Returns ErrNotFound for an unknown path.
func (s *Store) RemovePath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removePath(path)
}

// removePath is the lock-free core shared with the sweep. Callers must hold
// s.mu.
func (s *Store) removePath(path string) error {
	dataID, found, err := s.pathDataID(path)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	del, err := s.stmt(OpDeletePath)
	if err != nil {
		return err
	}
	if _, err := del.ExecContext(context.Background(), path); err != nil {
		return fmt.Errorf("delete path %s: %w", path, err)
	}

	return s.deleteDataIfOrphaned(dataID)
}

// RemoveIdentity deletes every path sharing the identity, then the data row
// itself. Used when an inode is confirmed fully removed, all hardlinks gone.
func (s *Store) RemoveIdentity(ino, dev uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delPaths, err := s.stmt(OpDeletePathIdentity)
	if err != nil {
		return err
	}
	res, err := delPaths.ExecContext(context.Background(), int64(ino), int64(dev))
	if err != nil {
		return fmt.Errorf("delete paths for identity (%d, %d): %w", ino, dev, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete paths for identity (%d, %d): %w", ino, dev, err)
	}

	delData, err := s.stmt(OpDeleteDataIdentity)
	if err != nil {
		return err
	}
	if _, err := delData.ExecContext(context.Background(), int64(ino), int64(dev)); err != nil {
		return fmt.Errorf("delete data for identity (%d, %d): %w", ino, dev, err)
	}

	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HardlinkCount reports how many paths reference the identity. Zero with a
// nil error means the identity is unknown.
func (s *Store) HardlinkCount(ino, dev uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	get, err := s.stmt(OpGetDataRow)
	if err != nil {
		return 0, err
	}
	var id, fingerprint int64
	row := get.QueryRowContext(context.Background(), int64(ino), int64(dev))
	switch err := row.Scan(&id, &fingerprint); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("lookup data row: %w", err)
	}
	return s.referenceCount(id)
}

// Count returns the number of path entries in the store.
func (s *Store) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.stmt(OpCountEntries)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := count.QueryRowContext(context.Background()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// pathDataID returns the data row id the path currently references.
func (s *Store) pathDataID(path string) (int64, bool, error) {
	get, err := s.stmt(OpGetPathDataID)
	if err != nil {
		return 0, false, err
	}
	var id int64
	row := get.QueryRowContext(context.Background(), path)
	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("lookup path %s: %w", path, err)
	}
	return id, true, nil
}

// referenceCount counts path rows pointing at the data row. The count is
// always derived, never stored, so it cannot go stale.
func (s *Store) referenceCount(dataID int64) (int64, error) {
	count, err := s.stmt(OpPathCount)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := count.QueryRowContext(context.Background(), dataID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count references: %w", err)
	}
	return n, nil
}

// deleteDataIfOrphaned removes the data row when no path references it.
func (s *Store) deleteDataIfOrphaned(dataID int64) error {
	n, err := s.referenceCount(dataID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	del, err := s.stmt(OpDeleteDataID)
	if err != nil {
		return err
	}
	if _, err := del.ExecContext(context.Background(), dataID); err != nil {
		return fmt.Errorf("delete data row %d: %w", dataID, err)
	}
	return nil
}
