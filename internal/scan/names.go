package scan

import (
	"os/user"
	"strconv"
	"sync"
)

var (
	userNames  sync.Map // uint32 -> string
	groupNames sync.Map // uint32 -> string
)

// userName resolves a uid to a name. Results are cached for the life of
// the process, including failed lookups, which resolve to the numeric id.
func userName(uid uint32) string {
	if v, ok := userNames.Load(uid); ok {
		return v.(string)
	}
	name := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	userNames.Store(uid, name)
	return name
}

func groupName(gid uint32) string {
	if v, ok := groupNames.Load(gid); ok {
		return v.(string)
	}
	name := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(name); err == nil {
		name = g.Name
	}
	groupNames.Store(gid, name)
	return name
}
