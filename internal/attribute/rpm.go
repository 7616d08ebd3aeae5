package attribute

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/containerd/errdefs"

	"github.com/chunkah/chunkah/internal/platform"
)

// manifestRelPath is where the reference attributor looks for its
// package manifest, relative to the rootfs root.
const manifestRelPath = "var/lib/rpm/.rpm-manifest.json"

// manifestDoc is the on-disk shape of the reference manifest:
// {"packages": {"<name>": ["<path>", ...]}}.
//
// Parsing the real RPM package database (BerkeleyDB, NDB, or the
// modern SQLite backend) is out of scope for this repo's core; a real
// RPM-database-backed Attributor plugs in by implementing the same
// Resolve method. This reference implementation instead reads a
// pre-extracted JSON sidecar in the same well-known location
// (/var/lib/rpm inside the rootfs).
type manifestDoc struct {
	Packages map[string][]string `json:"packages"`
}

// RPMAttributor is the reference Attributor: it reads a JSON package
// manifest under <rootfs>/var/lib/rpm and answers Resolve from an
// in-memory path→packages map built once at construction time.
type RPMAttributor struct {
	byPath map[string][]string
}

// NewRPMAttributor builds an RPMAttributor for the rootfs rooted at
// dir. It opens dir the same symlink-confined way the walker does
// (os.Root, final component opened with O_NOFOLLOW) so a manifest path
// crossing a symlink can't read content from outside the rootfs. A
// missing manifest is not an error: it means the rootfs carries no
// attribution data, and every path resolves to model.Unattributed. A
// present-but-malformed manifest is an attribution error, wrapped in
// errdefs.ErrDataLoss.
func NewRPMAttributor(dir string) (*RPMAttributor, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open rootfs: %w", err)
	}
	defer root.Close()

	f, err := platform.OpenNoFollow(root, manifestRelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &RPMAttributor{byPath: map[string][]string{}}, nil
		}
		return nil, fmt.Errorf("open rpm manifest: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read rpm manifest: %w", err)
	}

	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse rpm manifest: %v", errdefs.ErrDataLoss, err)
	}

	byPath := map[string][]string{}
	for pkg, paths := range doc.Packages {
		component := "rpm/" + pkg
		for _, p := range paths {
			byPath[p] = append(byPath[p], component)
		}
	}
	return &RPMAttributor{byPath: byPath}, nil
}

// Resolve returns every component id that claims path.
func (a *RPMAttributor) Resolve(path string) ([]string, error) {
	return a.byPath[path], nil
}

var _ Attributor = (*RPMAttributor)(nil)
