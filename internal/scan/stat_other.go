//go:build unix && !linux

package scan

import (
	"fmt"
	"os"
	"syscall"

	"fimd/internal/store"
)

func statAttrs(path string) (store.Attrs, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return store.Attrs{}, fmt.Errorf("lstat %s: %w", path, err)
	}
	st := info.Sys().(*syscall.Stat_t)
	return store.Attrs{
		Identity:  store.Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)},
		Size:      info.Size(),
		Mode:      uint32(st.Mode) & 0o7777,
		UID:       st.Uid,
		GID:       st.Gid,
		UserName:  userName(st.Uid),
		GroupName: groupName(st.Gid),
		ModTime:   info.ModTime().Unix(),
	}, nil
}
