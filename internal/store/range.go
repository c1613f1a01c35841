package store

import (
	"context"
	"errors"
	"fmt"
)

// VisitFunc receives one entry per matching row, in ascending path order.
// Returning ErrStopIteration ends the iteration early without error; any
// other non-nil error aborts it and is returned to the caller.
//
// The callback runs with the store lock held and must not call back into
// the store.
type VisitFunc func(Entry) error

// Range visits every entry whose path falls within [start, end]
// lexicographically, ascending. A range with start > end visits nothing.
func (s *Store) Range(start, end string, visit VisitFunc) error {
	if start > end {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forEach(OpRangeEntries, visit, start, end)
}

// All visits every entry in the store in ascending path order.
func (s *Store) All(visit VisitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forEach(OpAllEntries, visit)
}

// NotScanned visits every entry not confirmed during the current scan
// cycle, in ascending path order.
func (s *Store) NotScanned(visit VisitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forEach(OpNotScanned, visit)
}

// forEach drives visit over the rows of op. The cursor is released on every
// exit path. Callers must hold s.mu.
func (s *Store) forEach(op Op, visit VisitFunc, args ...any) error {
	st, err := s.stmt(op)
	if err != nil {
		return err
	}
	rows, err := st.QueryContext(context.Background(), args...)
	if err != nil {
		return fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan entry: %w", err)
		}
		if err := visit(e); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entries: %w", err)
	}
	return nil
}
