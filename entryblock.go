package pathtagfs

// entryMagic identifies an EntryBlock at offset 0 of its on-disk
// representation. No other block kind carries a magic (spec.md §6.1).
const entryMagic = "PTFEntry"

// EntryBlock is the inode: one per filesystem object (spec.md §3).
type EntryBlock struct {
	Attr Attr

	// IsTag is inherited from the parent at creation time (I7); the
	// Tags/ subtree and its descendants carry IsTag=true.
	IsTag bool

	// MoreData is the head of this object's chain: for a directory,
	// the first DirectoryBlock (0 if empty); for a regular file, the
	// first IndexBlock (0 if empty). Unused for other kinds.
	MoreData uint64
}

func (*EntryBlock) isBlock() {}

// newEntryBlock constructs a fresh EntryBlock for ino with the
// defaults mknod/mkdir assign (spec.md §4.3.3): default permissions,
// nlink=2, uid/gid from the caller, current timestamps, empty chain.
func newEntryBlock(ino uint64, kind Kind, isTag bool, uid, gid uint32, now uint64) *EntryBlock {
	t := timeFromMs(now)
	return &EntryBlock{
		Attr: Attr{
			Ino:     ino,
			Size:    0,
			Blocks:  0,
			Atime:   t,
			Mtime:   t,
			Ctime:   t,
			Crtime:  t,
			Perm:    defaultPerm(kind),
			NLink:   2,
			Uid:     uid,
			Gid:     gid,
			Rdev:    0,
			BlkSize: BlockSize,
			Flags:   0,
			Kind:    kind,
		},
		IsTag:    isTag,
		MoreData: 0,
	}
}
