package store

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Identity uniquely identifies file content for hardlink detection.
// Two paths with the same (device, inode) pair share one data row.
type Identity struct {
	Dev uint64
	Ino uint64
}

// Attrs holds the content attributes of a file as observed at scan time.
// Everything except the path itself: ownership, permissions, timestamps,
// and content digests.
type Attrs struct {
	Identity  Identity
	Size      int64
	Mode      uint32 // permission bits
	UID       uint32
	GID       uint32
	UserName  string
	GroupName string
	BLAKE3    string // hex digest of file content
	SHA256    string // optional secondary digest, empty if not computed
	ModTime   int64  // unix seconds
}

// Fingerprint returns a fast 64-bit digest over all attribute fields.
// It is stored alongside the data row so an unchanged re-observation can
// skip the UPDATE entirely.
func (a Attrs) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte

	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}

	writeU64(a.Identity.Dev)
	writeU64(a.Identity.Ino)
	writeU64(uint64(a.Size))
	writeU64(uint64(a.Mode))
	writeU64(uint64(a.UID))
	writeU64(uint64(a.GID))
	writeU64(uint64(a.ModTime))
	_, _ = h.WriteString(a.UserName)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(a.GroupName)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(a.BLAKE3)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(a.SHA256)
	return h.Sum64()
}

// Entry is the logical join of a path row and its data row, what callers
// observe as "a monitored file".
type Entry struct {
	Path      string
	DataID    int64
	Scanned   bool
	LastEvent time.Time
	Attrs     Attrs
}
