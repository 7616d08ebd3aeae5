// Package tarenc serializes one packed bucket as a deterministic
// POSIX-ustar + PAX-extended tar stream. It is built on stdlib
// archive/tar the same way containerd's OCI layout exporter
// (images/archive/exporter.go) builds its layer and index tars: a
// sorted slice of entries streamed through one tar.Writer.
package tarenc

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chunkah/chunkah/internal/model"
	"github.com/chunkah/chunkah/internal/platform"
)

// Emit writes entries to w as a tar stream. entries need not be
// pre-sorted; Emit sorts a copy by byte-lexicographic path before
// writing. rootDir is the filesystem rootfs entries' content is read
// from; epoch is SOURCE_DATE_EPOCH, stamped on every header's
// mtime/atime/ctime.
func Emit(w io.Writer, rootDir string, entries []model.Entry, epoch int64) error {
	root, err := os.OpenRoot(rootDir)
	if err != nil {
		return fmt.Errorf("tarenc: open root: %w", err)
	}
	defer root.Close()

	sorted := append([]model.Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	tw := tar.NewWriter(w)
	for _, e := range sorted {
		name := tarName(e.Path)
		if name == "" {
			continue // root itself is never materialized as a tar entry
		}
		if err := emitOne(tw, root, e, name, epoch); err != nil {
			return fmt.Errorf("tarenc: %s: %w", e.Path, err)
		}
	}
	return tw.Close()
}

func tarName(path string) string {
	return strings.TrimPrefix(path, "/")
}

func emitOne(tw *tar.Writer, root *os.Root, e model.Entry, name string, epoch int64) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     int64(e.Mode),
		Uid:      int(e.UID),
		Gid:      int(e.GID),
		// archive/tar drops AccessTime and ChangeTime unless the format
		// is chosen explicitly.
		Format:     tar.FormatPAX,
		ModTime:    time.Unix(epoch, 0),
		AccessTime: time.Unix(epoch, 0),
		ChangeTime: time.Unix(epoch, 0),
		Uname:      "",
		Gname:      "",
	}

	if len(e.Xattrs) > 0 {
		hdr.PAXRecords = make(map[string]string, len(e.Xattrs))
		for _, x := range e.Xattrs {
			hdr.PAXRecords["SCHILY.xattr."+x.Name] = string(x.Value)
		}
	}

	switch e.Kind {
	case model.KindDirectory:
		hdr.Typeflag = tar.TypeDir
		hdr.Name = strings.TrimSuffix(name, "/") + "/"
		hdr.Size = 0
	case model.KindRegular:
		hdr.Typeflag = tar.TypeReg
		hdr.Size = int64(e.Size) //nolint:gosec // file sizes are bounded well under int64
	case model.KindHardlink:
		hdr.Typeflag = tar.TypeLink
		hdr.Linkname = tarName(e.LinkTarget)
		hdr.Size = 0
	case model.KindSymlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.LinkTarget
		hdr.Size = 0
	case model.KindFIFO:
		hdr.Typeflag = tar.TypeFifo
	case model.KindChar:
		hdr.Typeflag = tar.TypeChar
		hdr.Devmajor = int64(e.Rdev.Major)
		hdr.Devminor = int64(e.Rdev.Minor)
	case model.KindBlock:
		hdr.Typeflag = tar.TypeBlock
		hdr.Devmajor = int64(e.Rdev.Major)
		hdr.Devminor = int64(e.Rdev.Minor)
	default:
		return fmt.Errorf("unsupported entry kind %v", e.Kind)
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	if e.Kind != model.KindRegular || e.Size == 0 {
		return nil
	}

	f, err := platform.OpenNoFollow(root, tarName(e.Path))
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(tw, f)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if n != int64(e.Size) { //nolint:gosec // bounds checked at walk time
		return fmt.Errorf("short read: wrote %d of %d bytes", n, e.Size)
	}
	return nil
}
