//go:build unix

package platform

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"
)

// Owner extracts uid, gid, device, and inode from file info on Unix
// systems, including the (dev, ino) pair the walker needs for hardlink
// detection.
func Owner(info fs.FileInfo) (uid, gid uint32, dev, ino uint64) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Uid, stat.Gid, uint64(stat.Dev), stat.Ino //nolint:unconvert // Dev is int64 on some arches
	}
	return 0, 0, 0, 0
}

// RdevOf returns the major/minor device numbers for a device node.
func RdevOf(info fs.FileInfo) (major, minor uint32) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		dev := uint64(stat.Rdev) //nolint:unconvert // Rdev is int64 on some arches
		return unix.Major(dev), unix.Minor(dev)
	}
	return 0, 0
}
