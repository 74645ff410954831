package pathtagfs

import "errors"

// Package-specific error variables, checked with errors.Is(), one per
// error kind in spec.md §7.
var (
	// ErrNotFound is returned when an inode or directory entry is absent.
	ErrNotFound = errors.New("pathtagfs: no such inode or entry")

	// ErrAlreadyExists names a name collision in a parent directory. No
	// FsEngine operation returns it; the adapter answers a collision with
	// EEXIST directly.
	ErrAlreadyExists = errors.New("pathtagfs: name already exists")

	// ErrInvalidArgument is returned for a negative offset or an
	// unsupported kind passed to an operation.
	ErrInvalidArgument = errors.New("pathtagfs: invalid argument")

	// ErrNotSupported names an unimplemented operation (unlink, rename,
	// symlink, xattr, locks, ...). No FsEngine operation returns it; the
	// adapter's unimplemented upcalls answer ENOSYS directly.
	ErrNotSupported = errors.New("pathtagfs: operation not supported")

	// ErrWrongKind is returned when a block number is retrieved expecting
	// one block kind but holds another; never silently reinterpreted.
	ErrWrongKind = errors.New("pathtagfs: block is not of the expected kind")

	// ErrOutOfSpace is returned by AllocateBlock when the bitmap has no
	// free bit left.
	ErrOutOfSpace = errors.New("pathtagfs: no free block in bitmap")

	// ErrCorrupt is returned when an EntryBlock's magic is missing or its
	// kind code falls outside 1..7.
	ErrCorrupt = errors.New("pathtagfs: corrupt block")
)
