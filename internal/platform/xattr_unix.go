//go:build unix

package platform

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/chunkah/chunkah/internal/model"
)

// trustedPrefix marks xattrs the kernel manages for its own bookkeeping
// (e.g. overlayfs whiteouts); these are filtered out.
const trustedPrefix = "trusted."

// Xattrs reads every extended attribute on path (no symlink following,
// matching the walker's "never follows symlinks" rule), drops
// trusted.* entries, and returns the rest sorted lexicographically by
// name, ready for emission.
func Xattrs(path string) ([]model.Xattr, error) {
	size, err := unix.Llistxattr(path, nil)
	if err != nil {
		if err == unix.ENOTSUP || err == unix.EOPNOTSUPP { //nolint:errorlint // unix errno comparison
			return nil, nil
		}
		return nil, fmt.Errorf("listxattr %s: %w", path, err)
	}
	if size == 0 {
		return nil, nil
	}

	namebuf := make([]byte, size)
	n, err := unix.Llistxattr(path, namebuf)
	if err != nil {
		return nil, fmt.Errorf("listxattr %s: %w", path, err)
	}
	names := splitNames(namebuf[:n])

	out := make([]model.Xattr, 0, len(names))
	for _, name := range names {
		if len(name) >= len(trustedPrefix) && name[:len(trustedPrefix)] == trustedPrefix {
			continue
		}
		valSize, err := unix.Lgetxattr(path, name, nil)
		if err != nil {
			return nil, fmt.Errorf("getxattr %s %s: %w", path, name, err)
		}
		val := make([]byte, valSize)
		if valSize > 0 {
			n, err := unix.Lgetxattr(path, name, val)
			if err != nil {
				return nil, fmt.Errorf("getxattr %s %s: %w", path, name, err)
			}
			val = val[:n]
		}
		out = append(out, model.Xattr{Name: name, Value: val})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func splitNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
