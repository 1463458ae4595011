package memory

import "unsafe"

// WordSize is the width of the words written by diagnostics and page
// touching.
const WordSize = 4

// Bytes returns a byte view of [a, a+n). The range must be mapped and
// readable for as long as the view is used.
func Bytes(a Address, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(a))), n)
}

// Words returns a 32-bit word view of [a, a+n). Trailing bytes that do not
// fill a word are excluded.
func Words(a Address, n uintptr) []uint32 {
	return castSlice[byte, uint32](Bytes(a, n))
}

// LoadWord reads the 32-bit word at a.
func LoadWord(a Address) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(a)))
}

// StoreWord writes v to the 32-bit word at a.
func StoreWord(a Address, v uint32) {
	*(*uint32)(unsafe.Pointer(uintptr(a))) = v
}

// ZeroPages clears [a, a+n).
func ZeroPages(a Address, n uintptr) {
	clear(Bytes(a, n))
}

func sizeof[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

// castSlice reinterprets the memory behind in as a slice of To. Length and
// capacity are scaled by the element sizes.
func castSlice[From, To any](in []From) []To {
	if len(in) == 0 {
		return nil
	}
	var (
		fromSize = int(sizeof[From]())
		toSize   = int(sizeof[To]())

		toLen = len(in) * fromSize / toSize
		toCap = cap(in) * fromSize / toSize
	)

	out := (*To)(unsafe.Pointer(unsafe.SliceData(in)))
	return unsafe.Slice(out, toCap)[:toLen]
}
