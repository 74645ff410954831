package pathtagfs

import "time"

// Attr holds the inode attributes stored in an EntryBlock, per the
// Entry row of spec.md §4.1's on-disk layout table.
type Attr struct {
	Ino     uint64
	Size    uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Crtime  time.Time
	Perm    uint32
	NLink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint32
	BlkSize uint32
	Flags   uint32
	Kind    Kind
}

// defaultPerm returns the permission bits mknod/mkdir assign to a
// freshly created child, per spec.md §4.3.3: 0755 for directories,
// 0644 otherwise.
func defaultPerm(kind Kind) uint32 {
	if kind == KindDir {
		return 0o755
	}
	return 0o644
}

// msFromTime converts a time.Time to milliseconds-since-epoch, the
// on-disk encoding for every time field (spec.md §4.1, "Times are
// encoded as milliseconds since the Unix epoch").
func msFromTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixMilli())
}

// timeFromMs is the inverse of msFromTime.
func timeFromMs(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}
