//go:build unix

package platform

import (
	"errors"
	"os"
	"syscall"
)

// ErrSymlink is returned when attempting to open a symbolic link.
// The walker never follows symlinks; it stats them with Lstat and
// records the target verbatim instead of calling OpenNoFollow.
var ErrSymlink = errors.New("chunkah: symbolic link")

// OpenNoFollow opens a regular file under root without following a
// symlink at the final path component.
func OpenNoFollow(root *os.Root, name string) (*os.File, error) {
	f, err := root.OpenFile(name, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		return nil, err
	}
	return f, nil
}
