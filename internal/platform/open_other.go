//go:build !unix

package platform

import (
	"errors"
	"io/fs"
	"os"
)

// ErrSymlink is returned when attempting to open a symbolic link.
var ErrSymlink = errors.New("chunkah: symbolic link")

// OpenNoFollow opens a regular file under root without following a
// symlink at the final path component.
func OpenNoFollow(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	return root.Open(name)
}
