package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// hashFile computes the BLAKE3 digest of the file at path, and optionally a
// SHA-256 digest in the same pass. Digests are returned hex-encoded.
func hashFile(path string, withSHA256 bool) (b3, sha string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	bh := blake3.New()
	var w io.Writer = bh
	var sh hash.Hash
	if withSHA256 {
		sh = sha256.New()
		w = io.MultiWriter(bh, sh)
	}

	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(w, f, buf); err != nil {
		return "", "", fmt.Errorf("hash %s: %w", path, err)
	}

	b3 = hex.EncodeToString(bh.Sum(nil))
	if sh != nil {
		sha = hex.EncodeToString(sh.Sum(nil))
	}
	return b3, sha, nil
}
