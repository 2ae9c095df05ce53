package cache

import (
	"fmt"
	"hash/fnv"
	"os"
)

// Fingerprint derives the cache key for a media file from its content
// identity: path, byte size, and modification time, hashed with FNV-64a.
// Two different recordings that happen to share a path produce different
// fingerprints once either size or mtime differs.
//
// The fingerprint deliberately contains no wall-clock component; a
// fast-changing suffix would make every lookup a miss and defeat the
// cache.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("cache: fingerprint %s: %w", path, err)
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
