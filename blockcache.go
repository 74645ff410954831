package pathtagfs

import (
	"fmt"
)

// bitsPerBlock is the number of bitmap bits a single DataBlock can
// record (B·8).
const bitsPerBlock = BlockSize * 8

// BlockCache is the write-through cache of decoded blocks keyed by
// block number; it owns the free-space bitmap and the reserved
// tag-root slots and mediates all allocation (spec.md §4.2).
type BlockCache struct {
	io *BlockIo

	capacity     uint64 // N after Format; after Open, M·B·8 (N itself is not persisted)
	bitmapBlocks uint32 // M
	tagReserve   uint32 // T

	bitmap []*DataBlock  // M blocks, ascending
	tags   []*EntryBlock // T blocks, ascending

	blocks map[uint64]block // residency map
}

// NewBlockCache wraps an already-open BlockIo. Callers must still call
// Format or Open before using the cache.
func NewBlockCache(io *BlockIo) *BlockCache {
	return &BlockCache{
		io:     io,
		blocks: make(map[uint64]block),
	}
}

func calculateBitAddr(bitNo uint64) (bmBlock uint64, bmByte int, bmBit uint) {
	bmBlock = bitNo / bitsPerBlock
	bmByte = int((bitNo - bmBlock*bitsPerBlock) / 8)
	bmBit = uint(bitNo % 8)
	return
}

// Format lays out a brand-new image of size_blocks blocks: zeroes it,
// builds a bitmap of the necessary length, and reserves blocks 0/1/2,
// the M bitmap blocks, and the T tag-root blocks (spec.md §4.2).
func (c *BlockCache) Format(sizeBlocks uint64, opts ...FormatOption) error {
	cfg := formatConfig{tagReserve: defaultTagReserve}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return err
		}
	}

	m := (sizeBlocks + bitsPerBlock - 1) / bitsPerBlock
	if m > 255 {
		return fmt.Errorf("pathtagfs: image of %d blocks needs %d bitmap blocks, exceeds the 255-block fs-info field: %w", sizeBlocks, m, ErrInvalidArgument)
	}
	if cfg.tagReserve > 255 {
		return fmt.Errorf("pathtagfs: tag reserve %d exceeds the 255-tag fs-info field: %w", cfg.tagReserve, ErrInvalidArgument)
	}

	c.capacity = sizeBlocks
	c.bitmapBlocks = uint32(m)
	c.tagReserve = cfg.tagReserve
	c.blocks = make(map[uint64]block)

	if err := c.io.Truncate(sizeBlocks); err != nil {
		return err
	}

	c.bitmap = make([]*DataBlock, c.bitmapBlocks)
	for i := range c.bitmap {
		c.bitmap[i] = newDataBlock()
	}
	c.tags = make([]*EntryBlock, c.tagReserve)
	for i := range c.tags {
		// A valid kind code lets Open's ReadEntryBlock accept the
		// tag roots once they are flushed.
		c.tags[i] = &EntryBlock{Attr: Attr{Kind: KindDir}}
	}

	c.TakeBlock(NoBlock)
	c.TakeBlock(RootIno)
	c.TakeBlock(FsInfoBlock)
	for i := uint64(0); i < uint64(c.bitmapBlocks); i++ {
		c.TakeBlock(FirstReservedBlock + i)
	}
	tagBase := FirstReservedBlock + uint64(c.bitmapBlocks)
	for i := uint64(0); i < uint64(c.tagReserve); i++ {
		c.TakeBlock(tagBase + i)
	}

	// The bitmap always spans a whole number of blocks (bitsPerBlock
	// bits each), so unless sizeBlocks is an exact multiple of
	// bitsPerBlock the last block's tail bits address numbers beyond
	// the configured capacity. Mark them taken so AllocateBlock can
	// never hand one out and so it correctly exhausts at sizeBlocks,
	// not at bitmapBlocks*bitsPerBlock (spec.md §9 and §8's allocator
	// scenario).
	for bitNo := sizeBlocks; bitNo < uint64(c.bitmapBlocks)*bitsPerBlock; bitNo++ {
		c.TakeBlock(bitNo)
	}

	return c.Flush()
}

// Open reads the fs-info block, then M bitmap blocks and T tag-root
// blocks into memory, per spec.md §4.2.
func (c *BlockCache) Open() error {
	info, err := c.io.ReadDataBlock(FsInfoBlock)
	if err != nil {
		return err
	}
	c.bitmapBlocks = uint32(info.Data[4])
	c.tagReserve = uint32(info.Data[5])
	c.blocks = make(map[uint64]block)

	c.bitmap = make([]*DataBlock, c.bitmapBlocks)
	for i := range c.bitmap {
		b, err := c.io.ReadDataBlock(FirstReservedBlock + uint64(i))
		if err != nil {
			return err
		}
		c.bitmap[i] = b
	}

	tagBase := FirstReservedBlock + uint64(c.bitmapBlocks)
	c.tags = make([]*EntryBlock, c.tagReserve)
	for i := range c.tags {
		t, err := c.io.ReadEntryBlock(tagBase + uint64(i))
		if err != nil {
			return err
		}
		c.tags[i] = t
	}

	c.capacity = uint64(c.bitmapBlocks) * bitsPerBlock

	return nil
}

// Flush writes fs-info, every bitmap block, every tag-root block, and
// every resident block, in that order, then syncs the image
// (spec.md §5's ordering guarantee).
func (c *BlockCache) Flush() error {
	info := newDataBlock()
	info.Data[4] = byte(c.bitmapBlocks)
	info.Data[5] = byte(c.tagReserve)
	if err := c.io.WriteDataBlock(info, FsInfoBlock); err != nil {
		return err
	}

	for i, b := range c.bitmap {
		if err := c.io.WriteDataBlock(b, FirstReservedBlock+uint64(i)); err != nil {
			return err
		}
	}

	tagBase := FirstReservedBlock + uint64(c.bitmapBlocks)
	for i, t := range c.tags {
		if err := c.io.WriteEntryBlock(t, tagBase+uint64(i)); err != nil {
			return err
		}
	}

	for bno, b := range c.blocks {
		if err := c.io.WriteBlock(b, bno); err != nil {
			return err
		}
	}

	return c.io.Flush()
}

func (c *BlockCache) getBitmapBit(bitNo uint64) bool {
	bmBlock, bmByte, bmBit := calculateBitAddr(bitNo)
	return c.bitmap[bmBlock].Data[bmByte]&(1<<bmBit) != 0
}

// TakeBlock sets bit bno explicitly, used to reserve fixed slots at
// format time.
func (c *BlockCache) TakeBlock(bno uint64) {
	bmBlock, bmByte, bmBit := calculateBitAddr(bno)
	c.bitmap[bmBlock].Data[bmByte] |= 1 << bmBit
}

func (c *BlockCache) clearBlock(bno uint64) {
	bmBlock, bmByte, bmBit := calculateBitAddr(bno)
	c.bitmap[bmBlock].Data[bmByte] &^= 1 << bmBit
}

// IsFree reports whether bno is currently unallocated.
func (c *BlockCache) IsFree(bno uint64) bool {
	return !c.getBitmapBit(bno)
}

// AllocateBlock scans the bitmap for the first zero bit — bitmap
// block ascending, then byte, then bit, skipping 0xFF bytes wholesale
// — sets it, and returns its global index. Returns ErrOutOfSpace
// rather than the reserved sentinel 0 when no bit is free
// (spec.md §9 open question, resolved in SPEC_FULL.md §13).
func (c *BlockCache) AllocateBlock() (uint64, error) {
	for n := 0; n < len(c.bitmap); n++ {
		data := c.bitmap[n].Data
		for b := 0; b < BlockSize; b++ {
			if data[b] == 0xFF {
				continue
			}
			bitStart := uint64(n)*bitsPerBlock + uint64(b)*8
			for bitNo := bitStart; bitNo < bitStart+8; bitNo++ {
				if !c.getBitmapBit(bitNo) {
					c.TakeBlock(bitNo)
					return bitNo, nil
				}
			}
		}
	}
	return 0, ErrOutOfSpace
}

// FreeBlock clears bno's bitmap bit and drops any residency entry for
// it. Not exercised by any core operation today (format/mknod/mkdir/
// write only ever grow the tree — spec.md's Non-goals exclude
// unlink/rmdir) but kept so a future delete path has a correct
// primitive to call.
func (c *BlockCache) FreeBlock(bno uint64) {
	c.clearBlock(bno)
	delete(c.blocks, bno)
}

// WriteBlock writes b to storage immediately and records it in the
// residency map, the write-through invariant of spec.md §4.2.
func (c *BlockCache) WriteBlock(b block, bno uint64) error {
	if err := c.io.WriteBlock(b, bno); err != nil {
		return err
	}
	c.blocks[bno] = b
	return nil
}

// RetrieveEntryBlock returns the EntryBlock at bno, faulting it in via
// BlockIo if not resident. Returns ErrWrongKind if bno names a
// resident block of a different kind.
func (c *BlockCache) RetrieveEntryBlock(bno uint64) (*EntryBlock, error) {
	if b, ok := c.blocks[bno]; ok {
		e, ok := b.(*EntryBlock)
		if !ok {
			return nil, fmt.Errorf("pathtagfs: block %d: %w", bno, ErrWrongKind)
		}
		return e, nil
	}
	e, err := c.io.ReadEntryBlock(bno)
	if err != nil {
		return nil, err
	}
	c.blocks[bno] = e
	return e, nil
}

// RetrieveDirectoryBlock returns the DirectoryBlock at bno, faulting
// it in via BlockIo if not resident.
func (c *BlockCache) RetrieveDirectoryBlock(bno uint64) (*DirectoryBlock, error) {
	if b, ok := c.blocks[bno]; ok {
		d, ok := b.(*DirectoryBlock)
		if !ok {
			return nil, fmt.Errorf("pathtagfs: block %d: %w", bno, ErrWrongKind)
		}
		return d, nil
	}
	d, err := c.io.ReadDirectoryBlock(bno)
	if err != nil {
		return nil, err
	}
	c.blocks[bno] = d
	return d, nil
}

// RetrieveIndexBlock returns the IndexBlock at bno, faulting it in via
// BlockIo if not resident.
func (c *BlockCache) RetrieveIndexBlock(bno uint64) (*IndexBlock, error) {
	if b, ok := c.blocks[bno]; ok {
		i, ok := b.(*IndexBlock)
		if !ok {
			return nil, fmt.Errorf("pathtagfs: block %d: %w", bno, ErrWrongKind)
		}
		return i, nil
	}
	i, err := c.io.ReadIndexBlock(bno)
	if err != nil {
		return nil, err
	}
	c.blocks[bno] = i
	return i, nil
}

// RetrieveDataBlock returns the DataBlock at bno, faulting it in via
// BlockIo if not resident.
func (c *BlockCache) RetrieveDataBlock(bno uint64) (*DataBlock, error) {
	if b, ok := c.blocks[bno]; ok {
		d, ok := b.(*DataBlock)
		if !ok {
			return nil, fmt.Errorf("pathtagfs: block %d: %w", bno, ErrWrongKind)
		}
		return d, nil
	}
	d, err := c.io.ReadDataBlock(bno)
	if err != nil {
		return nil, err
	}
	c.blocks[bno] = d
	return d, nil
}
