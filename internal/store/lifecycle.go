package store

import (
	"context"
	"fmt"
)

// SetAllUnscanned resets the per-cycle scanned flag on every path in one
// bulk update. Call at the start of a scan cycle; Insert marks each path
// scanned again as it is re-confirmed.
func (s *Store) SetAllUnscanned() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset, err := s.stmt(OpSetAllUnscanned)
	if err != nil {
		return err
	}
	if _, err := reset.ExecContext(context.Background()); err != nil {
		return fmt.Errorf("reset scanned flags: %w", err)
	}
	return nil
}

// MarkUnscanned clears the scanned flag on a single path, scheduling it for
// re-confirmation. Returns ErrNotFound for an unknown path.
func (s *Store) MarkUnscanned(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark, err := s.stmt(OpDisableScanned)
	if err != nil {
		return err
	}
	res, err := mark.ExecContext(context.Background(), path)
	if err != nil {
		return fmt.Errorf("mark %s unscanned: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s unscanned: %w", path, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepUnscanned removes every entry that was not re-confirmed during the
// scan cycle: each one represents a path deleted from disk. The report
// callback fires once per removed entry, before its removal, so the caller
// can emit a deletion event.
//
// Sweep must only run after a complete observe phase; running it after an
// aborted scan reports legitimate files as deleted. That contract belongs
// to the caller.
func (s *Store) SweepUnscanned(report func(Entry)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Collect first: visit callbacks must not mutate the store while the
	// cursor is open.
	var doomed []Entry
	err := s.forEach(OpNotScanned, func(e Entry) error {
		doomed = append(doomed, e)
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range doomed {
		if report != nil {
			report(e)
		}
		if err := s.removePath(e.Path); err != nil {
			return removed, fmt.Errorf("sweep %s: %w", e.Path, err)
		}
		removed++
	}

	// A path row with no joinable data row never shows up in the collect
	// query; the bulk delete clears any such stragglers.
	purge, err := s.stmt(OpDeleteUnscanned)
	if err != nil {
		return removed, err
	}
	if _, err := purge.ExecContext(context.Background()); err != nil {
		return removed, fmt.Errorf("purge unscanned: %w", err)
	}
	return removed, nil
}
