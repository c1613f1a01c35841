package store

import (
	"io"
)

// DataChecksum folds the content digest of every entry into acc, visiting
// entries in ascending path order. Two stores with identical logical content
// produce identical folds regardless of insertion history; the fold is
// order-sensitive, so the canonical ascending-path order is part of the
// contract shared with the remote authority.
//
// Hardlinked paths each contribute one fold step: the snapshot summarized
// is the set of (path, content) pairs, not the set of inodes.
func (s *Store) DataChecksum(acc io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foldChecksums(OpAllEntries, acc)
}

// RangeChecksum folds entries whose paths fall within [start, end], using
// the same ordering and fold as DataChecksum. The reconciliation protocol
// narrows a mismatch by re-checksumming successively smaller ranges.
func (s *Store) RangeChecksum(start, end string, acc io.Writer) error {
	if start > end {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foldChecksums(OpRangeEntries, acc, start, end)
}

// foldChecksums writes each entry's fold material into acc. Callers must
// hold s.mu.
func (s *Store) foldChecksums(op Op, acc io.Writer, args ...any) error {
	return s.forEach(op, func(e Entry) error {
		// Path then digest, NUL separated: moves and content changes both
		// perturb the fold.
		if _, err := io.WriteString(acc, e.Path); err != nil {
			return err
		}
		if _, err := acc.Write([]byte{0}); err != nil {
			return err
		}
		if _, err := io.WriteString(acc, e.Attrs.BLAKE3); err != nil {
			return err
		}
		if _, err := acc.Write([]byte{0}); err != nil {
			return err
		}
		return nil
	}, args...)
}
