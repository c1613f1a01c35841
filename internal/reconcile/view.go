// Package reconcile compares the local entry set against an authoritative
// remote copy using aggregate checksums, bisecting disagreeing path ranges
// until the differing paths are pinned down.
package reconcile

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"fimd/internal/store"
)

// Item is one path and its content checksum, the unit of comparison once
// a range is small enough to enumerate.
type Item struct {
	Path     string
	Checksum string
}

// View exposes the queries reconciliation needs over one side of the
// comparison. Ranges are inclusive on both ends.
type View interface {
	// Bounds returns the first and last path, with ok false when the
	// view holds no entries.
	Bounds() (first, last string, ok bool, err error)

	// Checksum returns the aggregate checksum over [start, end].
	Checksum(start, end string) (string, error)

	// Count returns the number of paths in [start, end].
	Count(start, end string) (int64, error)

	// Median returns the path at the midpoint of [start, end]. It is only
	// called on non-empty ranges.
	Median(start, end string) (string, error)

	// Items enumerates [start, end] in ascending path order.
	Items(start, end string) ([]Item, error)
}

// LocalView adapts a store to the View interface.
type LocalView struct {
	st *store.Store
}

func NewLocalView(st *store.Store) *LocalView {
	return &LocalView{st: st}
}

func (v *LocalView) Bounds() (string, string, bool, error) {
	var first, last string
	n := 0
	err := v.st.All(func(e store.Entry) error {
		if n == 0 {
			first = e.Path
		}
		last = e.Path
		n++
		return nil
	})
	if err != nil {
		return "", "", false, fmt.Errorf("bounds: %w", err)
	}
	return first, last, n > 0, nil
}

func (v *LocalView) Checksum(start, end string) (string, error) {
	h := blake3.New()
	if err := v.st.RangeChecksum(start, end, h); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (v *LocalView) Count(start, end string) (int64, error) {
	var n int64
	err := v.st.Range(start, end, func(store.Entry) error {
		n++
		return nil
	})
	return n, err
}

func (v *LocalView) Median(start, end string) (string, error) {
	n, err := v.Count(start, end)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", errors.New("median of empty range")
	}
	var median string
	var i int64
	err = v.st.Range(start, end, func(e store.Entry) error {
		if i == n/2 {
			median = e.Path
			return store.ErrStopIteration
		}
		i++
		return nil
	})
	if err != nil {
		return "", err
	}
	return median, nil
}

func (v *LocalView) Items(start, end string) ([]Item, error) {
	var items []Item
	err := v.st.Range(start, end, func(e store.Entry) error {
		items = append(items, Item{Path: e.Path, Checksum: e.Attrs.BLAKE3})
		return nil
	})
	return items, err
}
