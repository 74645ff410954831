package pathtagfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// BlockIo converts between in-memory block values and their exact
// on-disk byte layout, and performs positioned I/O against the image
// file (spec.md §4.1). It is the only subsystem that seeks or writes
// the image file descriptor (§5).
type BlockIo struct {
	f *os.File
}

// OpenBlockIo opens the image file for read+write, creating it if
// absent.
func OpenBlockIo(path string) (*BlockIo, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pathtagfs: open image: %w", err)
	}
	return &BlockIo{f: f}, nil
}

// Close releases the underlying file handle.
func (io2 *BlockIo) Close() error {
	return io2.f.Close()
}

// Flush forces dirty pages to the host filesystem.
func (io2 *BlockIo) Flush() error {
	return io2.f.Sync()
}

// Truncate grows (or shrinks) the backing image file to exactly
// n*BlockSize bytes, used by Format to lay out a fresh image.
func (io2 *BlockIo) Truncate(n uint64) error {
	if err := io2.f.Truncate(int64(n) * BlockSize); err != nil {
		return fmt.Errorf("pathtagfs: truncate image: %w", err)
	}
	return nil
}

func (io2 *BlockIo) seek(bno uint64) error {
	_, err := io2.f.Seek(int64(bno)*BlockSize, io.SeekStart)
	if err != nil {
		return fmt.Errorf("pathtagfs: seek block %d: %w", bno, err)
	}
	return nil
}

func (io2 *BlockIo) readFull(buf []byte) error {
	_, err := io.ReadFull(io2.f, buf)
	if err != nil {
		return fmt.Errorf("pathtagfs: short read: %w", err)
	}
	return nil
}

func (io2 *BlockIo) writeFull(buf []byte) error {
	n, err := io2.f.Write(buf)
	if err != nil {
		return fmt.Errorf("pathtagfs: write: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("pathtagfs: short write (%d of %d bytes)", n, len(buf))
	}
	return nil
}

// ReadDataBlock reads the raw BlockSize bytes at bno.
func (io2 *BlockIo) ReadDataBlock(bno uint64) (*DataBlock, error) {
	if err := io2.seek(bno); err != nil {
		return nil, err
	}
	b := newDataBlock()
	if err := io2.readFull(b.Data[:]); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteDataBlock writes b's raw bytes at bno.
func (io2 *BlockIo) WriteDataBlock(b *DataBlock, bno uint64) error {
	if err := io2.seek(bno); err != nil {
		return err
	}
	return io2.writeFull(b.Data[:])
}

// ReadEntryBlock decodes the EntryBlock at bno, per the Entry row of
// spec.md §4.1's layout table. A missing "PTFEntry" magic is fatal
// corruption, as is a kind code outside 1..7.
func (io2 *BlockIo) ReadEntryBlock(bno uint64) (*EntryBlock, error) {
	if err := io2.seek(bno); err != nil {
		return nil, err
	}
	buf := make([]byte, BlockSize)
	if err := io2.readFull(buf); err != nil {
		return nil, err
	}

	if string(buf[0:8]) != entryMagic {
		return nil, fmt.Errorf("pathtagfs: block %d: %w", bno, ErrCorrupt)
	}

	e := &EntryBlock{}
	a := &e.Attr
	a.Ino = binary.LittleEndian.Uint64(buf[8:16])
	a.Size = binary.LittleEndian.Uint64(buf[16:24])
	a.Blocks = binary.LittleEndian.Uint64(buf[24:32])
	a.Atime = timeFromMs(binary.LittleEndian.Uint64(buf[32:40]))
	a.Mtime = timeFromMs(binary.LittleEndian.Uint64(buf[40:48]))
	a.Ctime = timeFromMs(binary.LittleEndian.Uint64(buf[48:56]))
	a.Crtime = timeFromMs(binary.LittleEndian.Uint64(buf[56:64]))
	a.Perm = binary.LittleEndian.Uint32(buf[64:68])
	a.NLink = binary.LittleEndian.Uint32(buf[68:72])
	a.Uid = binary.LittleEndian.Uint32(buf[72:76])
	a.Gid = binary.LittleEndian.Uint32(buf[76:80])
	a.Rdev = binary.LittleEndian.Uint32(buf[80:84])
	a.BlkSize = binary.LittleEndian.Uint32(buf[84:88])
	a.Flags = binary.LittleEndian.Uint32(buf[88:92])

	kind := Kind(buf[92])
	if !kind.valid() {
		return nil, fmt.Errorf("pathtagfs: block %d: kind %d: %w", bno, kind, ErrCorrupt)
	}
	a.Kind = kind

	e.IsTag = buf[93] != 0
	e.MoreData = binary.LittleEndian.Uint64(buf[96:104])

	return e, nil
}

// WriteEntryBlock encodes e to bno.
func (io2 *BlockIo) WriteEntryBlock(e *EntryBlock, bno uint64) error {
	if err := io2.seek(bno); err != nil {
		return err
	}
	buf := make([]byte, BlockSize)
	copy(buf[0:8], entryMagic)

	a := &e.Attr
	binary.LittleEndian.PutUint64(buf[8:16], a.Ino)
	binary.LittleEndian.PutUint64(buf[16:24], a.Size)
	binary.LittleEndian.PutUint64(buf[24:32], a.Blocks)
	binary.LittleEndian.PutUint64(buf[32:40], msFromTime(a.Atime))
	binary.LittleEndian.PutUint64(buf[40:48], msFromTime(a.Mtime))
	binary.LittleEndian.PutUint64(buf[48:56], msFromTime(a.Ctime))
	binary.LittleEndian.PutUint64(buf[56:64], msFromTime(a.Crtime))
	binary.LittleEndian.PutUint32(buf[64:68], a.Perm)
	binary.LittleEndian.PutUint32(buf[68:72], a.NLink)
	binary.LittleEndian.PutUint32(buf[72:76], a.Uid)
	binary.LittleEndian.PutUint32(buf[76:80], a.Gid)
	binary.LittleEndian.PutUint32(buf[80:84], a.Rdev)
	binary.LittleEndian.PutUint32(buf[84:88], a.BlkSize)
	binary.LittleEndian.PutUint32(buf[88:92], a.Flags)
	buf[92] = byte(a.Kind)
	if e.IsTag {
		buf[93] = 1
	}
	binary.LittleEndian.PutUint64(buf[96:104], e.MoreData)

	return io2.writeFull(buf)
}

// ReadDirectoryBlock decodes the DirectoryBlock at bno: up to
// entriesPerDirBlock fixed 256-byte slots, terminated by an ino=0
// slot or by reaching entriesPerDirBlock, followed by the trailing
// next field.
func (io2 *BlockIo) ReadDirectoryBlock(bno uint64) (*DirectoryBlock, error) {
	if err := io2.seek(bno); err != nil {
		return nil, err
	}
	buf := make([]byte, BlockSize)
	if err := io2.readFull(buf); err != nil {
		return nil, err
	}

	db := newDirectoryBlock()
	for i := 0; i < entriesPerDirBlock; i++ {
		pos := i * entrySlotSize
		ino := binary.LittleEndian.Uint64(buf[pos : pos+8])
		if ino == 0 {
			break
		}
		nameBuf := buf[pos+8 : pos+entrySlotSize]
		end := 0
		for end < len(nameBuf) && nameBuf[end] != 0 {
			end++
		}
		db.Entries = append(db.Entries, DirEntry{Ino: ino, Name: string(nameBuf[:end])})
	}
	db.Next = binary.LittleEndian.Uint64(buf[BlockSize-8 : BlockSize])

	return db, nil
}

// WriteDirectoryBlock encodes db to bno.
func (io2 *BlockIo) WriteDirectoryBlock(db *DirectoryBlock, bno uint64) error {
	if err := io2.seek(bno); err != nil {
		return err
	}
	if len(db.Entries) > entriesPerDirBlock {
		return fmt.Errorf("pathtagfs: directory block %d: %d entries exceeds %d slots", bno, len(db.Entries), entriesPerDirBlock)
	}

	buf := make([]byte, BlockSize)
	for i, e := range db.Entries {
		pos := i * entrySlotSize
		binary.LittleEndian.PutUint64(buf[pos:pos+8], e.Ino)
		name := []byte(e.Name)
		if len(name) > maxNameBytes {
			return fmt.Errorf("pathtagfs: directory entry name %q exceeds %d bytes", e.Name, maxNameBytes)
		}
		copy(buf[pos+8:pos+entrySlotSize], name)
		// trailing bytes, including the NUL terminator, are already 0.
	}
	binary.LittleEndian.PutUint64(buf[BlockSize-8:BlockSize], db.Next)

	return io2.writeFull(buf)
}

// ReadIndexBlock decodes the IndexBlock at bno: indexSlotCount data
// block numbers followed by the trailing next field.
func (io2 *BlockIo) ReadIndexBlock(bno uint64) (*IndexBlock, error) {
	if err := io2.seek(bno); err != nil {
		return nil, err
	}
	buf := make([]byte, BlockSize)
	if err := io2.readFull(buf); err != nil {
		return nil, err
	}

	ib := newIndexBlock()
	for i := 0; i < indexSlotCount; i++ {
		ib.Slots[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	ib.Next = binary.LittleEndian.Uint64(buf[BlockSize-8 : BlockSize])

	return ib, nil
}

// WriteIndexBlock encodes ib to bno.
func (io2 *BlockIo) WriteIndexBlock(ib *IndexBlock, bno uint64) error {
	if err := io2.seek(bno); err != nil {
		return err
	}
	buf := make([]byte, BlockSize)
	for i, s := range ib.Slots {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], s)
	}
	binary.LittleEndian.PutUint64(buf[BlockSize-8:BlockSize], ib.Next)

	return io2.writeFull(buf)
}

// WriteBlock dispatches to the per-kind writer matching b's dynamic type.
func (io2 *BlockIo) WriteBlock(b block, bno uint64) error {
	switch v := b.(type) {
	case *EntryBlock:
		return io2.WriteEntryBlock(v, bno)
	case *DirectoryBlock:
		return io2.WriteDirectoryBlock(v, bno)
	case *IndexBlock:
		return io2.WriteIndexBlock(v, bno)
	case *DataBlock:
		return io2.WriteDataBlock(v, bno)
	default:
		return fmt.Errorf("pathtagfs: write block %d: %w", bno, ErrWrongKind)
	}
}
