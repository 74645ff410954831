package pathtagfs

// indexSlotCount is K, the number of data-block slots in one
// IndexBlock: (B/8) - 1, the remaining 8 bytes holding the trailing
// next field (spec.md §3).
const indexSlotCount = BlockSize/8 - 1

// IndexBlock addresses a run of a file's data blocks and chains to the
// next IndexBlock for files needing more than indexSlotCount blocks
// (spec.md §3, §9 "File size bound").
type IndexBlock struct {
	Slots [indexSlotCount]uint64
	Next  uint64
}

func (*IndexBlock) isBlock() {}

func newIndexBlock() *IndexBlock {
	return &IndexBlock{}
}
