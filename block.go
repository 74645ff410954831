// Package pathtagfs implements the storage engine of a userspace
// filesystem backed by a single fixed-block-size image file: a bitmap
// free-space map, four block kinds (entry/index/directory/data), and
// the directory- and index-block chains built on top of them.
package pathtagfs

// BlockSize is B, the fixed size in bytes of every block in the image
// file. All positioned I/O is exactly BlockSize bytes.
const BlockSize = 2048

// Reserved block numbers (spec.md §3).
const (
	// NoBlock is the reserved sentinel meaning "no block" (a zero
	// more_data/next/slot).
	NoBlock uint64 = 0
	// RootIno is the block number of the filesystem root's EntryBlock.
	RootIno uint64 = 1
	// FsInfoBlock is the block number of the fs-info header.
	FsInfoBlock uint64 = 2
	// FirstReservedBlock is the first block number after 0/1/2 — the
	// start of the bitmap-block run.
	FirstReservedBlock uint64 = 3
)

// Kind identifies which filesystem object type an EntryBlock describes.
type Kind byte

// Entry kind codes, per spec.md §4.1's layout table.
const (
	KindFifo     Kind = 1
	KindCharDev  Kind = 2
	KindBlockDev Kind = 3
	KindDir      Kind = 4
	KindFile     Kind = 5
	KindSymlink  Kind = 6
	KindSocket   Kind = 7
)

func (k Kind) valid() bool {
	return k >= KindFifo && k <= KindSocket
}

func (k Kind) String() string {
	switch k {
	case KindFifo:
		return "fifo"
	case KindCharDev:
		return "char-device"
	case KindBlockDev:
		return "block-device"
	case KindDir:
		return "directory"
	case KindFile:
		return "regular-file"
	case KindSymlink:
		return "symlink"
	case KindSocket:
		return "socket"
	default:
		return "invalid"
	}
}

// block is the tagged-union marker implemented by EntryBlock,
// DirectoryBlock, IndexBlock and DataBlock, the four polymorphic
// on-disk block kinds (spec.md §9 "Polymorphic blocks"). It has no
// methods of its own; BlockCache and BlockIo type-switch on it.
type block interface {
	isBlock()
}
