package pathtagfs

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// wellKnownPathes and wellKnownTags are the two top-level directories
// created at format time (spec.md §4.3.5).
const (
	wellKnownPathes = "Pathes"
	wellKnownTags   = "Tags"
)

// FsEngine layers the logical file-system operations — create, lookup,
// list, read, write — on top of a BlockCache, maintaining directory-
// block chains and index-block chains (spec.md §4.3).
type FsEngine struct {
	cache *BlockCache

	// nextHandle is the monotonic counter backing Open's opaque
	// handle (spec.md §6.2 "open").
	nextHandle uint64
}

// NewFsEngine wraps an already-constructed BlockCache.
func NewFsEngine(cache *BlockCache) *FsEngine {
	return &FsEngine{cache: cache}
}

// Format lays out a fresh image: delegates to BlockCache.Format, marks
// the reserved blocks, constructs the root directory, and creates the
// well-known Pathes/ and Tags/ subtrees (spec.md §4.3.5).
func (e *FsEngine) Format(sizeBlocks uint64, opts ...FormatOption) error {
	if err := e.cache.Format(sizeBlocks, opts...); err != nil {
		return err
	}

	now := uint64(time.Now().UnixMilli())
	root := newEntryBlock(RootIno, KindDir, false, uint32(unix.Getuid()), uint32(unix.Getgid()), now)
	if err := e.cache.WriteBlock(root, RootIno); err != nil {
		return err
	}

	if _, err := e.Mkdir(RootIno, wellKnownPathes); err != nil {
		return fmt.Errorf("pathtagfs: format: creating %s: %w", wellKnownPathes, err)
	}

	tags, err := e.Mkdir(RootIno, wellKnownTags)
	if err != nil {
		return fmt.Errorf("pathtagfs: format: creating %s: %w", wellKnownTags, err)
	}
	tags.IsTag = true
	if err := e.cache.WriteBlock(tags, tags.Attr.Ino); err != nil {
		return err
	}

	return e.cache.Flush()
}

// Open reads the persisted image back into memory. No directory walk
// is required; inodes fault in lazily.
func (e *FsEngine) Open(rootIno uint64) error {
	return e.cache.Open()
}

// Flush persists all pending mutations.
func (e *FsEngine) Flush() error {
	return e.cache.Flush()
}

// OpenHandle returns a fresh opaque handle from a monotonic counter
// (spec.md §6.2 "open").
func (e *FsEngine) OpenHandle() uint64 {
	e.nextHandle++
	return e.nextHandle
}

// Getattr returns the EntryBlock naming ino's attributes.
func (e *FsEngine) Getattr(ino uint64) (*EntryBlock, error) {
	return e.cache.RetrieveEntryBlock(ino)
}

// Setattr mutates the named fields of ino's EntryBlock. mtime is
// bumped to now whenever size is set (spec.md §4.3.4). Truncation of
// file data blocks is not performed — a documented limitation.
type SetattrRequest struct {
	Size  *uint64
	Perm  *uint32
	Uid   *uint32
	Gid   *uint32
	Flags *uint32
	Atime *time.Time
	Mtime *time.Time
}

func (e *FsEngine) Setattr(ino uint64, req SetattrRequest) (*EntryBlock, error) {
	entry, err := e.cache.RetrieveEntryBlock(ino)
	if err != nil {
		return nil, err
	}

	if req.Size != nil {
		entry.Attr.Size = *req.Size
		entry.Attr.Mtime = time.Now()
	}
	if req.Perm != nil {
		entry.Attr.Perm = *req.Perm
	}
	if req.Uid != nil {
		entry.Attr.Uid = *req.Uid
	}
	if req.Gid != nil {
		entry.Attr.Gid = *req.Gid
	}
	if req.Flags != nil {
		entry.Attr.Flags = *req.Flags
	}
	if req.Atime != nil {
		entry.Attr.Atime = *req.Atime
	}
	if req.Mtime != nil {
		entry.Attr.Mtime = *req.Mtime
	}

	if err := e.cache.WriteBlock(entry, ino); err != nil {
		return nil, err
	}
	return entry, nil
}

// FindChild walks parent_ino's directory chain comparing names
// bytewise; the first match wins (spec.md §4.3.1).
func (e *FsEngine) FindChild(parentIno uint64, name string) (uint64, error) {
	parent, err := e.cache.RetrieveEntryBlock(parentIno)
	if err != nil {
		return 0, err
	}

	next := parent.MoreData
	for next != NoBlock {
		db, err := e.cache.RetrieveDirectoryBlock(next)
		if err != nil {
			return 0, err
		}
		for _, ent := range db.Entries {
			if ent.Name == name {
				return ent.Ino, nil
			}
		}
		next = db.Next
	}

	return 0, ErrNotFound
}

// ListChildren walks parent_ino's directory chain, concatenating
// entries in chain order (spec.md §4.3.1).
func (e *FsEngine) ListChildren(parentIno uint64) ([]DirEntry, error) {
	parent, err := e.cache.RetrieveEntryBlock(parentIno)
	if err != nil {
		return nil, err
	}

	var result []DirEntry
	next := parent.MoreData
	for next != NoBlock {
		db, err := e.cache.RetrieveDirectoryBlock(next)
		if err != nil {
			return nil, err
		}
		result = append(result, db.Entries...)
		next = db.Next
	}

	return result, nil
}

// AddEntry appends a {name, childIno} entry to parentIno's directory
// chain: fill the first block with a free slot, or extend the chain
// with a new block (spec.md §4.3.1).
func (e *FsEngine) AddEntry(parentIno uint64, name string, childIno uint64) error {
	parent, err := e.cache.RetrieveEntryBlock(parentIno)
	if err != nil {
		return err
	}

	if parent.MoreData == NoBlock {
		bno, err := e.cache.AllocateBlock()
		if err != nil {
			return err
		}
		db := newDirectoryBlock()
		db.Entries = append(db.Entries, DirEntry{Ino: childIno, Name: name})
		if err := e.cache.WriteBlock(db, bno); err != nil {
			return err
		}
		parent.MoreData = bno
		return e.cache.WriteBlock(parent, parentIno)
	}

	var tailBno uint64
	next := parent.MoreData
	for next != NoBlock {
		db, err := e.cache.RetrieveDirectoryBlock(next)
		if err != nil {
			return err
		}
		if len(db.Entries) < entriesPerDirBlock {
			db.Entries = append(db.Entries, DirEntry{Ino: childIno, Name: name})
			return e.cache.WriteBlock(db, next)
		}
		tailBno = next
		next = db.Next
	}

	bno, err := e.cache.AllocateBlock()
	if err != nil {
		return err
	}
	db := newDirectoryBlock()
	db.Entries = append(db.Entries, DirEntry{Ino: childIno, Name: name})
	if err := e.cache.WriteBlock(db, bno); err != nil {
		return err
	}

	tail, err := e.cache.RetrieveDirectoryBlock(tailBno)
	if err != nil {
		return err
	}
	tail.Next = bno
	return e.cache.WriteBlock(tail, tailBno)
}

// Mknod creates a new EntryBlock of kind under parentIno named name,
// inheriting is_tag from the parent (spec.md §4.3.3). Name-collision
// checking is the surface adapter's responsibility, via FindChild,
// before calling Mknod.
func (e *FsEngine) Mknod(parentIno uint64, name string, kind Kind) (*EntryBlock, error) {
	parent, err := e.cache.RetrieveEntryBlock(parentIno)
	if err != nil {
		return nil, err
	}
	if !kind.valid() {
		return nil, ErrInvalidArgument
	}

	bno, err := e.cache.AllocateBlock()
	if err != nil {
		return nil, err
	}
	if err := e.AddEntry(parentIno, name, bno); err != nil {
		return nil, err
	}

	now := uint64(time.Now().UnixMilli())
	entry := newEntryBlock(bno, kind, parent.IsTag, uint32(unix.Getuid()), uint32(unix.Getgid()), now)
	if err := e.cache.WriteBlock(entry, bno); err != nil {
		return nil, err
	}

	return entry, nil
}

// Mkdir creates a directory named name under parentIno, then seeds
// its "." and ".." entries (spec.md §4.3.3).
func (e *FsEngine) Mkdir(parentIno uint64, name string) (*EntryBlock, error) {
	entry, err := e.Mknod(parentIno, name, KindDir)
	if err != nil {
		return nil, err
	}

	if err := e.AddEntry(entry.Attr.Ino, ".", entry.Attr.Ino); err != nil {
		return nil, err
	}
	if err := e.AddEntry(entry.Attr.Ino, "..", parentIno); err != nil {
		return nil, err
	}

	return entry, nil
}

// Read walks the index chain rooted at indexHead, collecting the data
// blocks that cover [offset, offset+size), and returns their raw
// bytes concatenated in block order (spec.md §4.3.2). A negative
// offset yields an empty slice.
func (e *FsEngine) Read(indexHead uint64, offset int64, size int) ([]byte, error) {
	if offset < 0 || size <= 0 {
		return nil, nil
	}

	var blockNos []uint64
	ibNo := indexHead
	for ibNo != NoBlock {
		ib, err := e.cache.RetrieveIndexBlock(ibNo)
		if err != nil {
			return nil, err
		}

		start := offset / BlockSize
		end := (offset + int64(size) - 1) / BlockSize
		for n := start; n <= end && int(n) < len(ib.Slots); n++ {
			if ib.Slots[n] != NoBlock {
				blockNos = append(blockNos, ib.Slots[n])
			}
		}

		ibNo = ib.Next
	}

	result := make([]byte, 0, len(blockNos)*BlockSize)
	for _, bno := range blockNos {
		db, err := e.cache.RetrieveDataBlock(bno)
		if err != nil {
			return nil, err
		}
		result = append(result, db.Data[:]...)
	}

	return result, nil
}

// Write replaces ino's entire index chain with one freshly allocated
// IndexBlock whose leading slots point at new data blocks holding data
// (spec.md §4.3.2). The data fills those leading slots whatever offset
// is, and Attr.Size becomes len(data), so the body reads back from
// offset 0. This is
// replace-on-write, not incremental write: every call discards the
// file's previous body rather than patching it — the documented
// behaviour carried over from the draft (see SPEC_FULL.md §13).
func (e *FsEngine) Write(ino uint64, offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidArgument
	}
	if len(data) == 0 {
		return 0, nil
	}

	dataBlockNos, err := e.writeDataBlocks(offset, data)
	if err != nil {
		return 0, err
	}
	if len(dataBlockNos) > indexSlotCount {
		return 0, fmt.Errorf("pathtagfs: write of %d bytes needs %d index slots, exceeds %d per block: %w", len(data), len(dataBlockNos), indexSlotCount, ErrInvalidArgument)
	}

	ibNo, err := e.cache.AllocateBlock()
	if err != nil {
		return 0, err
	}
	ib := newIndexBlock()
	copy(ib.Slots[:], dataBlockNos)
	if err := e.cache.WriteBlock(ib, ibNo); err != nil {
		return 0, err
	}

	entry, err := e.cache.RetrieveEntryBlock(ino)
	if err != nil {
		return 0, err
	}
	entry.MoreData = ibNo
	entry.Attr.Size = uint64(len(data))
	entry.Attr.Blocks = uint64(len(dataBlockNos))
	entry.Attr.Mtime = time.Now()
	if err := e.cache.WriteBlock(entry, ino); err != nil {
		return 0, err
	}

	return len(data), nil
}

func (e *FsEngine) writeDataBlocks(offset int64, data []byte) ([]uint64, error) {
	start := offset / BlockSize
	end := (offset + int64(len(data)) - 1) / BlockSize

	result := make([]uint64, 0, end-start+1)
	for n := start; n <= end; n++ {
		dataStart := (n - start) * BlockSize
		dataEnd := dataStart + BlockSize
		if dataEnd > int64(len(data)) {
			dataEnd = int64(len(data))
		}

		bno, err := e.cache.AllocateBlock()
		if err != nil {
			return nil, err
		}
		db := newDataBlock()
		copy(db.Data[:], data[dataStart:dataEnd])
		if err := e.cache.WriteBlock(db, bno); err != nil {
			return nil, err
		}
		result = append(result, bno)
	}

	return result, nil
}

// DebugWalk recursively prints the tree rooted at ino, in the style of
// the original implementation's list_fs debug helper — a supplemented
// diagnostic, not part of the core upcall surface.
func (e *FsEngine) DebugWalk(ino uint64, depth int, print func(depth int, ino uint64, kind Kind, name string)) error {
	entries, err := e.ListChildren(ino)
	if err != nil {
		return err
	}

	var subdirs []uint64
	for _, ent := range entries {
		child, err := e.cache.RetrieveEntryBlock(ent.Ino)
		if err != nil {
			return err
		}
		print(depth, ent.Ino, child.Attr.Kind, ent.Name)
		if child.Attr.Kind == KindDir && ent.Name != "." && ent.Name != ".." {
			subdirs = append(subdirs, ent.Ino)
		}
	}

	for _, sub := range subdirs {
		if err := e.DebugWalk(sub, depth+1, print); err != nil {
			return err
		}
	}

	return nil
}
