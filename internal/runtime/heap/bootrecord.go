package heap

import (
	herrors "github.com/orizon-lang/heapregion/internal/errors"
	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

// BootRecord is the table shared with the image loader and later startup
// stages. Region id owns HeapRanges[2*id] (start) and HeapRanges[2*id+1]
// (end). The final pair is kept zero as a terminator.
type BootRecord struct {
	HeapRanges []uintptr

	BootImageStart      memory.Address // Bounds of the loaded boot image
	BootImageEnd        memory.Address
	BootImageDescriptor memory.Address // Boot heap descriptor inside the image
	ImageVersion        string         // Image format version, semver
}

// NewBootRecord sizes a record for maxHeaps regions plus the terminator.
func NewBootRecord(maxHeaps int) *BootRecord {
	return &BootRecord{HeapRanges: make([]uintptr, 2*maxHeaps+2)}
}

// Slots is the number of integer range slots.
func (b *BootRecord) Slots() int { return len(b.HeapRanges) }

// Range returns the published range of region id.
func (b *BootRecord) Range(id int) (start, end memory.Address) {
	if id < 0 || 2*id+1 >= len(b.HeapRanges) {
		return memory.Zero, memory.Zero
	}
	return memory.Address(b.HeapRanges[2*id]), memory.Address(b.HeapRanges[2*id+1])
}

func (b *BootRecord) set(id int, start, end memory.Address) error {
	if id < 0 || 2*id+1 >= len(b.HeapRanges)-2 {
		return herrors.BootRecordFull(id, len(b.HeapRanges))
	}
	b.HeapRanges[2*id] = uintptr(start)
	b.HeapRanges[2*id+1] = uintptr(end)
	return nil
}
