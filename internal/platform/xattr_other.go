//go:build !unix

package platform

import "github.com/chunkah/chunkah/internal/model"

// Xattrs returns no extended attributes on non-Unix systems.
func Xattrs(path string) ([]model.Xattr, error) {
	return nil, nil
}
