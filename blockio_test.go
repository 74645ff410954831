package pathtagfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestBlockIo(t *testing.T) *BlockIo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.ptf")
	io, err := OpenBlockIo(path)
	if err != nil {
		t.Fatalf("OpenBlockIo: %v", err)
	}
	if err := io.Truncate(64); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	t.Cleanup(func() { io.Close() })
	return io
}

// TestEntryBlockRoundTrip exercises P4: decode(encode(e)) = e modulo
// time fields quantised to milliseconds.
func TestEntryBlockRoundTrip(t *testing.T) {
	io := newTestBlockIo(t)

	now := time.Now().UnixMilli()
	want := newEntryBlock(7, KindFile, true, 1000, 1000, uint64(now))
	want.Attr.Size = 4096
	want.Attr.Blocks = 2
	want.MoreData = 42

	if err := io.WriteEntryBlock(want, 7); err != nil {
		t.Fatalf("WriteEntryBlock: %v", err)
	}
	got, err := io.ReadEntryBlock(7)
	if err != nil {
		t.Fatalf("ReadEntryBlock: %v", err)
	}

	if *got != *want {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got, want)
	}
}

// TestEntryBlockMissingMagicIsCorrupt exercises spec.md §4.1's
// "missing magic on an EntryBlock read is fatal" rule.
func TestEntryBlockMissingMagicIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.ptf")
	raw := make([]byte, BlockSize*2)
	copy(raw[BlockSize:], []byte("NOTAMAGIC"))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	io, err := OpenBlockIo(path)
	if err != nil {
		t.Fatalf("OpenBlockIo: %v", err)
	}
	defer io.Close()

	if _, err := io.ReadEntryBlock(1); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

// TestEntryBlockInvalidKindIsCorrupt exercises spec.md §4.1's "a kind
// code outside 1..7 is fatal" rule.
func TestEntryBlockInvalidKindIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.ptf")
	raw := make([]byte, BlockSize*2)
	copy(raw[BlockSize:], []byte(entryMagic))
	raw[BlockSize+92] = 99 // invalid kind code
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	io, err := OpenBlockIo(path)
	if err != nil {
		t.Fatalf("OpenBlockIo: %v", err)
	}
	defer io.Close()

	if _, err := io.ReadEntryBlock(1); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

// TestDirectoryBlockRoundTrip exercises P5 for DirectoryBlock,
// including the "decoder stops at the first entry with ino=0" rule.
func TestDirectoryBlockRoundTrip(t *testing.T) {
	io := newTestBlockIo(t)

	want := newDirectoryBlock()
	want.Entries = append(want.Entries,
		DirEntry{Ino: 1, Name: "."},
		DirEntry{Ino: 2, Name: ".."},
		DirEntry{Ino: 9, Name: "a-long-enough-name.txt"},
	)
	want.Next = 11

	if err := io.WriteDirectoryBlock(want, 3); err != nil {
		t.Fatalf("WriteDirectoryBlock: %v", err)
	}
	got, err := io.ReadDirectoryBlock(3)
	if err != nil {
		t.Fatalf("ReadDirectoryBlock: %v", err)
	}

	if got.Next != want.Next {
		t.Fatalf("Next mismatch: got %d want %d", got.Next, want.Next)
	}
	if len(got.Entries) != len(want.Entries) {
		t.Fatalf("entry count mismatch: got %d want %d", len(got.Entries), len(want.Entries))
	}
	for i := range want.Entries {
		if got.Entries[i] != want.Entries[i] {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, got.Entries[i], want.Entries[i])
		}
	}
}

// TestIndexBlockRoundTrip exercises P5 for IndexBlock.
func TestIndexBlockRoundTrip(t *testing.T) {
	io := newTestBlockIo(t)

	want := newIndexBlock()
	want.Slots[0] = 10
	want.Slots[1] = 11
	want.Slots[indexSlotCount-1] = 999
	want.Next = 5

	if err := io.WriteIndexBlock(want, 4); err != nil {
		t.Fatalf("WriteIndexBlock: %v", err)
	}
	got, err := io.ReadIndexBlock(4)
	if err != nil {
		t.Fatalf("ReadIndexBlock: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

// TestDataBlockRoundTrip exercises P5 for DataBlock.
func TestDataBlockRoundTrip(t *testing.T) {
	io := newTestBlockIo(t)

	want := newDataBlock()
	for i := range want.Data {
		want.Data[i] = byte(i)
	}

	if err := io.WriteDataBlock(want, 5); err != nil {
		t.Fatalf("WriteDataBlock: %v", err)
	}
	got, err := io.ReadDataBlock(5)
	if err != nil {
		t.Fatalf("ReadDataBlock: %v", err)
	}
	if *got != *want {
		t.Fatalf("data round trip mismatch")
	}
}

// TestWriteBlockDispatch exercises WriteBlock's dynamic dispatch for a
// DataBlock passed as the block interface.
func TestWriteBlockDispatch(t *testing.T) {
	io := newTestBlockIo(t)

	var b block = newDataBlock()
	if err := io.WriteBlock(b, 6); err != nil {
		t.Fatalf("WriteBlock(DataBlock): %v", err)
	}
	if _, err := io.ReadDataBlock(6); err != nil {
		t.Fatalf("ReadDataBlock after WriteBlock: %v", err)
	}
}
