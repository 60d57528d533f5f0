package chainprim

import "fmt"

// FilePos locates a single record inside the block store (C1): the file it
// lives in (relative to the store's root directory) and the byte offset of
// its length prefix.
type FilePos struct {
	FileName string
	Offset   uint64
}

// IsZero reports whether p has never been set.
func (p FilePos) IsZero() bool {
	return p.FileName == "" && p.Offset == 0
}

// String renders the position for logs and error messages.
func (p FilePos) String() string {
	return fmt.Sprintf("%s@%d", p.FileName, p.Offset)
}
