//go:build linux

package scan

import (
	"fmt"

	"golang.org/x/sys/unix"

	"fimd/internal/store"
)

// statAttrs reads the on-disk attributes of path without following
// symlinks. The mode keeps the setuid/setgid/sticky bits; the FIM cares
// about those more than most.
func statAttrs(path string) (store.Attrs, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return store.Attrs{}, fmt.Errorf("lstat %s: %w", path, err)
	}
	return store.Attrs{
		Identity:  store.Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)},
		Size:      int64(st.Size),
		Mode:      uint32(st.Mode) & 0o7777,
		UID:       st.Uid,
		GID:       st.Gid,
		UserName:  userName(st.Uid),
		GroupName: groupName(st.Gid),
		ModTime:   int64(st.Mtim.Sec),
	}, nil
}
