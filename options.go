package pathtagfs

// defaultTagReserve is T, the fixed tag-reserve count used when Format
// isn't given WithTagReserve (spec.md §3: "T = 16 or a small constant
// set at format time").
const defaultTagReserve = 16

// FormatOption configures a Format call, the same functional-options
// shape the teacher uses for its Superblock Option and its Writer's
// WriterOption.
type FormatOption func(*formatConfig) error

type formatConfig struct {
	tagReserve uint32
}

// WithTagReserve overrides T, the number of reserved tag-root blocks
// set aside at format time (spec.md §3).
func WithTagReserve(t uint32) FormatOption {
	return func(c *formatConfig) error {
		if t == 0 {
			return ErrInvalidArgument
		}
		c.tagReserve = t
		return nil
	}
}
