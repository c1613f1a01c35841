package reconcile

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fimd/internal/store"
)

func newView(t *testing.T, entries map[string]string) *LocalView {
	t.Helper()
	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for i, p := range paths {
		attrs := store.Attrs{
			Identity: store.Identity{Dev: 1, Ino: uint64(i + 1)},
			Size:     4,
			Mode:     0o644,
			BLAKE3:   entries[p],
			ModTime:  1700000000,
		}
		require.NoError(t, st.Insert(p, attrs))
	}
	return NewLocalView(st)
}

func run(t *testing.T, local, remote *LocalView, opts ...Option) Diff {
	t.Helper()
	diff, err := New(local, remote, opts...).Run(context.Background())
	require.NoError(t, err)
	return diff
}

func TestReconcileIdentical(t *testing.T) {
	entries := map[string]string{
		"/etc/hosts":  "d1",
		"/etc/passwd": "d2",
		"/etc/shadow": "d3",
	}
	diff := run(t, newView(t, entries), newView(t, entries))
	assert.True(t, diff.Empty())
}

func TestReconcileBothEmpty(t *testing.T) {
	diff := run(t, newView(t, nil), newView(t, nil))
	assert.True(t, diff.Empty())
}

func TestReconcileRemoteMissingPath(t *testing.T) {
	local := newView(t, map[string]string{"/a": "d1", "/b": "d2", "/c": "d3"})
	remote := newView(t, map[string]string{"/a": "d1", "/c": "d3"})

	diff := run(t, local, remote)
	assert.Equal(t, []string{"/b"}, diff.OnlyLocal)
	assert.Empty(t, diff.OnlyRemote)
	assert.Empty(t, diff.Changed)
}

func TestReconcileRemoteExtraPath(t *testing.T) {
	local := newView(t, map[string]string{"/a": "d1"})
	remote := newView(t, map[string]string{"/a": "d1", "/z": "d9"})

	diff := run(t, local, remote)
	assert.Equal(t, []string{"/z"}, diff.OnlyRemote)
	assert.Empty(t, diff.OnlyLocal)
}

func TestReconcileChangedChecksum(t *testing.T) {
	local := newView(t, map[string]string{"/a": "d1", "/b": "new"})
	remote := newView(t, map[string]string{"/a": "d1", "/b": "old"})

	diff := run(t, local, remote)
	assert.Equal(t, []string{"/b"}, diff.Changed)
	assert.Empty(t, diff.OnlyLocal)
	assert.Empty(t, diff.OnlyRemote)
}

func TestReconcileEmptyLocal(t *testing.T) {
	remote := newView(t, map[string]string{"/a": "d1", "/b": "d2"})
	diff := run(t, newView(t, nil), remote)
	assert.Equal(t, []string{"/a", "/b"}, diff.OnlyRemote)
}

func TestReconcileEmptyRemote(t *testing.T) {
	local := newView(t, map[string]string{"/a": "d1", "/b": "d2"})
	diff := run(t, local, newView(t, nil))
	assert.Equal(t, []string{"/a", "/b"}, diff.OnlyLocal)
}

func TestReconcileBisectsLargeSets(t *testing.T) {
	localEntries := make(map[string]string)
	remoteEntries := make(map[string]string)
	for i := range 64 {
		p := fmt.Sprintf("/data/file%03d", i)
		d := fmt.Sprintf("digest%03d", i)
		localEntries[p] = d
		remoteEntries[p] = d
	}
	// Scattered divergence: one deletion, one change, one remote extra.
	delete(remoteEntries, "/data/file010")
	remoteEntries["/data/file033"] = "stale"
	remoteEntries["/zzz/extra"] = "dx"

	diff := run(t, newView(t, localEntries), newView(t, remoteEntries), WithThreshold(4))
	assert.Equal(t, []string{"/data/file010"}, diff.OnlyLocal)
	assert.Equal(t, []string{"/zzz/extra"}, diff.OnlyRemote)
	assert.Equal(t, []string{"/data/file033"}, diff.Changed)
}

func TestReconcileCanceledContext(t *testing.T) {
	local := newView(t, map[string]string{"/a": "d1"})
	remote := newView(t, map[string]string{"/a": "d2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(local, remote).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalViewBounds(t *testing.T) {
	v := newView(t, map[string]string{"/b": "d2", "/a": "d1", "/c": "d3"})
	first, last, ok, err := v.Bounds()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/a", first)
	assert.Equal(t, "/c", last)

	empty := newView(t, nil)
	_, _, ok, err = empty.Bounds()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalViewMedian(t *testing.T) {
	v := newView(t, map[string]string{"/a": "d1", "/b": "d2", "/c": "d3", "/d": "d4"})
	mid, err := v.Median("/a", "/d")
	require.NoError(t, err)
	assert.Equal(t, "/c", mid)
}
