package pathtagfs

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestBlockCache(t *testing.T) *BlockCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.ptf")
	io, err := OpenBlockIo(path)
	if err != nil {
		t.Fatalf("OpenBlockIo: %v", err)
	}
	t.Cleanup(func() { io.Close() })
	return NewBlockCache(io)
}

// TestFormatReservesFixedSlots checks that Format takes blocks
// 0/1/2, the bitmap-block run, and the tag-root run.
func TestFormatReservesFixedSlots(t *testing.T) {
	c := newTestBlockCache(t)
	if err := c.Format(4096, WithTagReserve(4)); err != nil {
		t.Fatalf("Format: %v", err)
	}

	for _, bno := range []uint64{NoBlock, RootIno, FsInfoBlock} {
		if c.IsFree(bno) {
			t.Fatalf("block %d should be reserved", bno)
		}
	}
	if c.bitmapBlocks == 0 {
		t.Fatalf("expected nonzero bitmap block count")
	}
	for i := uint64(0); i < uint64(c.bitmapBlocks); i++ {
		if c.IsFree(FirstReservedBlock + i) {
			t.Fatalf("bitmap block %d should be reserved", FirstReservedBlock+i)
		}
	}
	tagBase := FirstReservedBlock + uint64(c.bitmapBlocks)
	for i := uint64(0); i < 4; i++ {
		if c.IsFree(tagBase + i) {
			t.Fatalf("tag-root block %d should be reserved", tagBase+i)
		}
	}
}

// TestFormatRejectsOversizedBitmap checks the 255-bitmap-block cap
// from the compact fs-info layout (SPEC_FULL.md §13).
func TestFormatRejectsOversizedBitmap(t *testing.T) {
	c := newTestBlockCache(t)
	huge := uint64(256) * bitsPerBlock
	if err := c.Format(huge); err == nil {
		t.Fatalf("expected error formatting an image needing >255 bitmap blocks")
	} else if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

// TestAllocateBlockSkipsReservedAndFullBytes exercises the bit-scan
// order and the 0xFF-byte skip (spec.md §4.2).
func TestAllocateBlockSkipsReservedAndFullBytes(t *testing.T) {
	c := newTestBlockCache(t)
	if err := c.Format(4096, WithTagReserve(2)); err != nil {
		t.Fatalf("Format: %v", err)
	}

	reservedHigh := FirstReservedBlock + uint64(c.bitmapBlocks) + 2 - 1

	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		bno, err := c.AllocateBlock()
		if err != nil {
			t.Fatalf("AllocateBlock %d: %v", i, err)
		}
		if bno <= reservedHigh {
			t.Fatalf("allocated a reserved block %d (reserved high=%d)", bno, reservedHigh)
		}
		if seen[bno] {
			t.Fatalf("AllocateBlock returned duplicate %d", bno)
		}
		seen[bno] = true
	}
}

// TestAllocateBlockOutOfSpace exercises §8's allocator scenario: once every bit is taken,
// AllocateBlock surfaces ErrOutOfSpace rather than returning 0.
func TestAllocateBlockOutOfSpace(t *testing.T) {
	c := newTestBlockCache(t)
	// One bitmap block's worth of capacity and the smallest tag reserve
	// WithTagReserve accepts (1), so the whole bitmap is exhausted quickly.
	if err := c.Format(bitsPerBlock, WithTagReserve(1)); err != nil {
		t.Fatalf("Format: %v", err)
	}

	var last error
	for i := 0; i < int(bitsPerBlock)+1; i++ {
		_, err := c.AllocateBlock()
		if err != nil {
			last = err
			break
		}
	}
	if !errors.Is(last, ErrOutOfSpace) {
		t.Fatalf("expected ErrOutOfSpace, got %v", last)
	}
}

// TestWriteBlockIsWriteThrough checks spec.md §4.2's write-through
// invariant: a write is visible to a later retrieve even without an
// intervening flush/reopen.
func TestWriteBlockIsWriteThrough(t *testing.T) {
	c := newTestBlockCache(t)
	if err := c.Format(4096); err != nil {
		t.Fatalf("Format: %v", err)
	}

	bno, err := c.AllocateBlock()
	if err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	db := newDataBlock()
	db.Data[0] = 0x42
	if err := c.WriteBlock(db, bno); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	got, err := c.RetrieveDataBlock(bno)
	if err != nil {
		t.Fatalf("RetrieveDataBlock: %v", err)
	}
	if got.Data[0] != 0x42 {
		t.Fatalf("write-through failed: got %d want 0x42", got.Data[0])
	}
}

// TestRetrieveWrongKind checks that retrieving a block as the wrong
// kind surfaces ErrWrongKind rather than silently reinterpreting it.
func TestRetrieveWrongKind(t *testing.T) {
	c := newTestBlockCache(t)
	if err := c.Format(4096); err != nil {
		t.Fatalf("Format: %v", err)
	}

	bno, err := c.AllocateBlock()
	if err != nil {
		t.Fatalf("AllocateBlock: %v", err)
	}
	if err := c.WriteBlock(newDataBlock(), bno); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	if _, err := c.RetrieveDirectoryBlock(bno); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}
