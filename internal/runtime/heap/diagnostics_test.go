package heap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

func TestClobberWordsPattern(t *testing.T) {
	words := make([]uint32, 0x20000/memory.WordSize)
	clobberWords(words)

	require.Equal(t, uint32(0xff0000ff), words[0])
	require.Equal(t, uint32(0xff0000ff), words[0x40/memory.WordSize])
	require.Equal(t, uint32(0xff0001ff), words[0x100/memory.WordSize])
	require.Equal(t, uint32(0xff0123ff), words[0x12300/memory.WordSize])
	require.Equal(t, uint32(0xff01ffff), words[0x1fffc/memory.WordSize])
	for i, w := range words {
		require.Equal(t, uint32(0xff), w&0xff, "word %d", i)
		require.Equal(t, uint32(0xff000000), w&0xff000000, "word %d", i)
	}
}

// plant stores a pointer-sized value at words[i].
func plant(words []uint32, i int, v memory.Address) {
	*(*uintptr)(unsafe.Pointer(&words[i])) = uintptr(v)
}

func inRange(lo, hi memory.Address) func(memory.Address) bool {
	return func(a memory.Address) bool { return a.GE(lo) && a.LE(hi) }
}

func TestScanWordsFindsAlignedCandidates(t *testing.T) {
	words := make([]uint32, 64)
	base := memory.Address(0x2000_0000)
	isRef := inRange(0x1000_000c, 0x1000_1000)

	plant(words, 4, 0x1000_0010)
	plant(words, 10, 0x1000_1000)
	plant(words, 16, 0x1000_0011) // not word aligned
	plant(words, 22, 0x1000_0008) // below the reference range
	plant(words, 28, 0x1000_1004) // above it

	type match struct {
		loc, value memory.Address
		count      int
	}
	var got []match
	n := scanWords(words, base, isRef, func(loc, value memory.Address, count int) {
		got = append(got, match{loc, value, count})
	})

	require.Equal(t, 2, n)
	require.Equal(t, []match{
		{base.Add(16), 0x1000_0010, 1},
		{base.Add(40), 0x1000_1000, 2},
	}, got)

	// Without a callback only the count is produced.
	require.Equal(t, 2, scanWords(words, base, isRef, nil))
}

func TestScanWordsIgnoresShortTail(t *testing.T) {
	words := make([]uint32, ptrWords)
	plant(words, 0, 0x1000_0010)
	require.Equal(t, 1, scanWords(words, 0, inRange(0x1000_000c, 0x1000_1000), nil))
	require.Zero(t, scanWords(words[:ptrWords-1], 0, func(memory.Address) bool { return true }, nil))
	require.Zero(t, scanWords(nil, 0, func(memory.Address) bool { return true }, nil))
}

func TestScanAfterClobberFindsNothing(t *testing.T) {
	words := make([]uint32, 4096)
	clobberWords(words)
	require.Zero(t, scanWords(words, 0x3000_0000, func(memory.Address) bool { return true }, nil))
}
