package scan

import "fimd/internal/store"

// Stat returns the attributes of a single file, as a scan worker would
// record them.
func Stat(path string) (store.Attrs, error) {
	return statAttrs(path)
}

// Hash computes the hex content digests of a single file.
func Hash(path string, withSHA256 bool) (b3, sha string, err error) {
	return hashFile(path, withSHA256)
}

// Unchanged reports whether stored attributes still describe the observed
// file, digests aside. A true result lets the caller reuse the stored
// digests instead of rehashing.
func Unchanged(old, cur store.Attrs, wantSHA256 bool) bool {
	if wantSHA256 && old.SHA256 == "" {
		return false
	}
	return old.Identity == cur.Identity &&
		old.Size == cur.Size &&
		old.ModTime == cur.ModTime &&
		old.Mode == cur.Mode &&
		old.UID == cur.UID &&
		old.GID == cur.GID
}
