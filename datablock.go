package pathtagfs

// DataBlock is BlockSize raw bytes (spec.md §3).
type DataBlock struct {
	Data [BlockSize]byte
}

func (*DataBlock) isBlock() {}

func newDataBlock() *DataBlock {
	return &DataBlock{}
}
