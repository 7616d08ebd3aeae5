//go:build !unix

package platform

import "io/fs"

// Owner returns zero uid/gid/dev/ino on non-Unix systems.
func Owner(info fs.FileInfo) (uid, gid uint32, dev, ino uint64) {
	return 0, 0, 0, 0
}

// RdevOf returns zero major/minor on non-Unix systems.
func RdevOf(info fs.FileInfo) (major, minor uint32) {
	return 0, 0
}
