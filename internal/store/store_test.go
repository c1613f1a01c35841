package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func testAttrs(ino, dev uint64, hash string) Attrs {
	return Attrs{
		Identity:  Identity{Dev: dev, Ino: ino},
		Size:      1024,
		Mode:      0o644,
		UID:       0,
		GID:       0,
		UserName:  "root",
		GroupName: "root",
		BLAKE3:    hash,
		ModTime:   1700000000,
	}
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_OpenCloseFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fim", "fim.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Insert("/etc/hosts", testAttrs(10, 1, "h1")))
	require.NoError(t, s.Close())

	assert.FileExists(t, dbPath)

	// Reopen and find the committed entry.
	s, err = Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	e, err := s.GetPath("/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "h1", e.Attrs.BLAKE3)
}

func TestStore_Clean(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fim.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert("/a", testAttrs(1, 1, "x")))
	require.NoError(t, s.Clean())

	n, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	// Store stays usable after a clean.
	require.NoError(t, s.Insert("/b", testAttrs(2, 1, "y")))
}

func TestStore_PathUniqueness(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Insert("/etc/passwd", testAttrs(100, 1, "h1")))
	require.NoError(t, s.Insert("/etc/passwd", testAttrs(100, 1, "h1")))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_IdempotentInsert(t *testing.T) {
	s := openMemory(t)

	attrs := testAttrs(100, 1, "h1")
	require.NoError(t, s.Insert("/etc/passwd", attrs))
	before, err := s.GetPath("/etc/passwd")
	require.NoError(t, err)

	require.NoError(t, s.Insert("/etc/passwd", attrs))
	after, err := s.GetPath("/etc/passwd")
	require.NoError(t, err)

	assert.Equal(t, before.DataID, after.DataID)
	assert.Equal(t, before.Attrs, after.Attrs)

	links, err := s.HardlinkCount(100, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), links)
}

func TestStore_HardlinkDedup(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Insert("/etc/passwd", testAttrs(100, 1, "h1")))
	require.NoError(t, s.Insert("/etc/passwd.bak", testAttrs(100, 1, "h1")))

	a, err := s.GetPath("/etc/passwd")
	require.NoError(t, err)
	b, err := s.GetPath("/etc/passwd.bak")
	require.NoError(t, err)
	assert.Equal(t, a.DataID, b.DataID, "hardlinks must share one data row")

	links, err := s.HardlinkCount(100, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), links)

	// Update through the identity is visible via both paths.
	changed := testAttrs(100, 1, "h2")
	changed.Size = 2048
	require.NoError(t, s.Update(100, 1, changed))

	b, err = s.GetPath("/etc/passwd.bak")
	require.NoError(t, err)
	assert.Equal(t, "h2", b.Attrs.BLAKE3)
	assert.Equal(t, int64(2048), b.Attrs.Size)
}

func TestStore_OrphanCleanup(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Insert("/etc/passwd", testAttrs(100, 1, "h1")))
	require.NoError(t, s.Insert("/etc/passwd.bak", testAttrs(100, 1, "h1")))

	// Removing one of two referencers keeps the data row.
	require.NoError(t, s.RemovePath("/etc/passwd"))
	_, err := s.GetIdentity(100, 1)
	require.NoError(t, err)

	// Removing the last referencer removes the data row too.
	require.NoError(t, s.RemovePath("/etc/passwd.bak"))
	_, err = s.GetIdentity(100, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PathRecreatedWithNewIdentity(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Insert("/var/log/app.log", testAttrs(50, 1, "old")))

	// Log rotation: same path, brand new inode.
	require.NoError(t, s.Insert("/var/log/app.log", testAttrs(51, 1, "new")))

	e, err := s.GetPath("/var/log/app.log")
	require.NoError(t, err)
	assert.Equal(t, uint64(51), e.Attrs.Identity.Ino)

	// The abandoned data row must not linger.
	_, err = s.GetIdentity(50, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_UpdateUnknownIdentity(t *testing.T) {
	s := openMemory(t)

	err := s.Update(999, 9, testAttrs(999, 9, "h"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetUnique(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Insert("/etc/shadow", testAttrs(200, 1, "h1")))

	_, err := s.GetUnique("/etc/shadow", 200, 1)
	require.NoError(t, err)

	// Same path, wrong identity: the file was recreated.
	_, err = s.GetUnique("/etc/shadow", 201, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RemoveIdentity(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Insert("/bin/a", testAttrs(300, 1, "h")))
	require.NoError(t, s.Insert("/bin/b", testAttrs(300, 1, "h")))
	require.NoError(t, s.Insert("/bin/c", testAttrs(301, 1, "i")))

	require.NoError(t, s.RemoveIdentity(300, 1))

	_, err := s.GetPath("/bin/a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPath("/bin/b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPath("/bin/c")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.RemoveIdentity(300, 1), ErrNotFound)
}

func TestStore_NotFoundIsNotAnError(t *testing.T) {
	s := openMemory(t)

	_, err := s.GetPath("/no/such/path")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetIdentity(1, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.RemovePath("/no/such/path"), ErrNotFound)
}

func TestStore_MarkSweep(t *testing.T) {
	s := openMemory(t)

	for i, path := range []string{"/a", "/b", "/c"} {
		require.NoError(t, s.Insert(path, testAttrs(uint64(i+1), 1, "h")))
	}

	require.NoError(t, s.SetAllUnscanned())

	// Only /a and /b are re-observed this cycle.
	require.NoError(t, s.Insert("/a", testAttrs(1, 1, "h")))
	require.NoError(t, s.Insert("/b", testAttrs(2, 1, "h")))

	var reported []string
	removed, err := s.SweepUnscanned(func(e Entry) {
		reported = append(reported, e.Path)
	})
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"/c"}, reported)

	_, err = s.GetPath("/c")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPath("/a")
	assert.NoError(t, err)
}

func TestStore_SweepEmptyCycle(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Insert("/a", testAttrs(1, 1, "h")))
	require.NoError(t, s.SetAllUnscanned())
	require.NoError(t, s.Insert("/a", testAttrs(1, 1, "h")))

	removed, err := s.SweepUnscanned(nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStore_MarkUnscannedSinglePath(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.Insert("/a", testAttrs(1, 1, "h")))
	require.NoError(t, s.MarkUnscanned("/a"))
	assert.ErrorIs(t, s.MarkUnscanned("/missing"), ErrNotFound)

	removed, err := s.SweepUnscanned(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestStore_RangeOrderAndBounds(t *testing.T) {
	s := openMemory(t)

	paths := []string{"/etc/hosts", "/etc/passwd", "/usr/bin/env", "/var/log/syslog"}
	for i, p := range paths {
		require.NoError(t, s.Insert(p, testAttrs(uint64(i+1), 1, "h")))
	}

	var visited []string
	err := s.Range("/etc", "/usr\xff", func(e Entry) error {
		visited = append(visited, e.Path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/hosts", "/etc/passwd", "/usr/bin/env"}, visited)

	// Inverted bounds visit nothing and do not error.
	visited = nil
	require.NoError(t, s.Range("/z", "/a", func(e Entry) error {
		visited = append(visited, e.Path)
		return nil
	}))
	assert.Empty(t, visited)
}

func TestStore_AllAscending(t *testing.T) {
	s := openMemory(t)

	// Insert out of order; iteration must come back sorted.
	for i, p := range []string{"/c", "/a", "/b"} {
		require.NoError(t, s.Insert(p, testAttrs(uint64(i+1), 1, "h")))
	}

	var visited []string
	require.NoError(t, s.All(func(e Entry) error {
		visited = append(visited, e.Path)
		return nil
	}))
	assert.Equal(t, []string{"/a", "/b", "/c"}, visited)
}

func TestStore_IterationEarlyStop(t *testing.T) {
	s := openMemory(t)

	for i, p := range []string{"/a", "/b", "/c"} {
		require.NoError(t, s.Insert(p, testAttrs(uint64(i+1), 1, "h")))
	}

	var visited []string
	err := s.All(func(e Entry) error {
		visited = append(visited, e.Path)
		if len(visited) == 2 {
			return ErrStopIteration
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, visited, 2)

	// The store remains usable after an early stop.
	require.NoError(t, s.Insert("/d", testAttrs(4, 1, "h")))
}

func TestStore_ChecksumDeterminism(t *testing.T) {
	entries := map[string]Attrs{
		"/a": testAttrs(1, 1, "h1"),
		"/b": testAttrs(2, 1, "h2"),
		"/c": testAttrs(3, 1, "h3"),
	}

	fold := func(order []string) []byte {
		s := openMemory(t)
		for _, p := range order {
			require.NoError(t, s.Insert(p, entries[p]))
		}
		acc := blake3.New()
		require.NoError(t, s.DataChecksum(acc))
		return acc.Sum(nil)
	}

	// Insertion order must not matter.
	assert.Equal(t, fold([]string{"/a", "/b", "/c"}), fold([]string{"/c", "/a", "/b"}))
}

func TestStore_ChecksumSensitivity(t *testing.T) {
	build := func(hashB string) []byte {
		s := openMemory(t)
		require.NoError(t, s.Insert("/a", testAttrs(1, 1, "h1")))
		require.NoError(t, s.Insert("/b", testAttrs(2, 1, hashB)))
		acc := blake3.New()
		require.NoError(t, s.DataChecksum(acc))
		return acc.Sum(nil)
	}

	assert.NotEqual(t, build("h2"), build("h2-changed"),
		"a single changed digest must perturb the aggregate")
}

func TestStore_RangeChecksumMatchesSubset(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Insert("/a", testAttrs(1, 1, "h1")))
	require.NoError(t, s.Insert("/b", testAttrs(2, 1, "h2")))

	full := blake3.New()
	require.NoError(t, s.RangeChecksum("/a", "/b", full))

	all := blake3.New()
	require.NoError(t, s.DataChecksum(all))
	assert.Equal(t, all.Sum(nil), full.Sum(nil))

	// Inverted range folds nothing.
	empty := blake3.New()
	require.NoError(t, s.RangeChecksum("/b", "/a", empty))
	assert.Equal(t, blake3.New().Sum(nil), empty.Sum(nil))
}

func TestStore_CommitBatching(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fim.db")

	// A long interval keeps writes batched: CheckTransaction is a no-op.
	s, err := Open(dbPath, WithCommitInterval(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert("/a", testAttrs(1, 1, "h")))
	require.NoError(t, s.CheckTransaction())

	// A zero interval flushes on every check.
	require.NoError(t, s.ForceCommit())

	// Writes survive a force commit and remain visible.
	e, err := s.GetPath("/a")
	require.NoError(t, err)
	assert.Equal(t, "h", e.Attrs.BLAKE3)
}

func TestStore_CheckTransactionZeroInterval(t *testing.T) {
	s, err := Open(MemoryPath, WithCommitInterval(0))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert("/a", testAttrs(1, 1, "h")))
	require.NoError(t, s.CheckTransaction())
	require.NoError(t, s.Insert("/b", testAttrs(2, 1, "h")))
	require.NoError(t, s.CheckTransaction())

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_ClosedHandle(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.ForceCommit(), ErrClosed)
	assert.ErrorIs(t, s.CheckTransaction(), ErrClosed)
	_, err = s.GetPath("/a")
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	require.NoError(t, s.Close())
}

func TestStore_StmtAccessor(t *testing.T) {
	s := openMemory(t)

	assert.NotNil(t, s.Stmt(OpGetPath))
	assert.Nil(t, s.Stmt(Op(-1)))
	assert.Nil(t, s.Stmt(opCount))
}

func TestAttrs_Fingerprint(t *testing.T) {
	a := testAttrs(1, 1, "h")
	b := testAttrs(1, 1, "h")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Size++
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := testAttrs(1, 1, "h")
	c.UserName, c.GroupName = "ro", "otroot"
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint(),
		"field boundaries must be delimited")
}
