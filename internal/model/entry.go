// Package model holds the data types shared across the chunkah pipeline:
// filesystem entries, components, and the buckets the packer produces.
package model

// Kind identifies the filesystem object type of an Entry.
type Kind uint8

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindHardlink
	KindFIFO
	KindChar
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindHardlink:
		return "hardlink"
	case KindFIFO:
		return "fifo"
	case KindChar:
		return "char"
	case KindBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Xattr is a single extended attribute name/value pair.
type Xattr struct {
	Name  string
	Value []byte
}

// Rdev carries the major/minor numbers for device nodes.
type Rdev struct {
	Major uint32
	Minor uint32
}

// Entry is an immutable record describing one filesystem object.
//
// Entries are produced by the walker and never mutated afterward; a
// directory entry re-emitted as a shared parent is a fresh copy, not an
// in-place edit.
type Entry struct {
	Path          string
	Kind          Kind
	Mode          uint32 // 12-bit permission + setuid/setgid/sticky
	UID, GID      uint32
	Size          uint64 // regular files only
	LinkTarget    string // symlink target, or primary path for hardlinks
	Rdev          Rdev
	ContentDigest string // "sha256:<hex>", regular files only
	Xattrs        []Xattr
	MTime         int64 // never the source mtime: the walker leaves it 0, and tarenc stamps SOURCE_DATE_EPOCH on headers

	// DevIno identifies the source inode for hardlink grouping. It is not
	// emitted anywhere; attribute.Build reads it to coalesce every path
	// sharing an inode onto one primary component, so a hardlink and its
	// target always land in the same layer.
	DevIno DevIno
}

// DevIno is a (device, inode) pair used to detect hardlinks.
type DevIno struct {
	Dev uint64
	Ino uint64
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Kind == KindDirectory }
