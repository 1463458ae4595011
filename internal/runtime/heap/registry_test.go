package heap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	herrors "github.com/orizon-lang/heapregion/internal/errors"
	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

func TestRegistryMembership(t *testing.T) {
	rt, _ := newTestRuntime(t, memory.System(), Options{})
	a := NewRegion(rt, "a")
	b := NewRegion(rt, "b")
	a.SetRegion(0x1000, 0x2000)
	b.SetRegion(0x5000, 0x6000)

	require.Equal(t, 0, a.ID())
	require.Equal(t, 1, b.ID())
	requireConsistent(t, a)
	requireConsistent(t, b)

	g := rt.Registry
	require.True(t, g.AddrInAnyHeap(0x1800))
	require.False(t, g.AddrInAnyHeap(0x3000))
	require.True(t, g.AddrInAnyHeap(0x5000))
	require.False(t, g.AddrInAnyHeap(0x6000))
	require.Same(t, b, g.Find(0x5fff))
	require.Nil(t, g.Find(0x2000))

	require.True(t, g.RefInAnyHeap(b.MaxRef()))
	require.True(t, g.RefInAnyHeap(a.MinRef()))
	require.False(t, g.RefInAnyHeap(a.MinRef()-1))
	require.False(t, g.RefInAnyHeap(0x4000))

	require.Equal(t, uintptr(0x2000), g.TotalSize())
	require.Equal(t, []*Region{a, b}, g.Regions())
	require.Same(t, a, g.Region(0))
	require.Nil(t, g.Region(2))
}

func TestRegistryEmpty(t *testing.T) {
	g := NewRegistry(4)
	require.False(t, g.AddrInAnyHeap(0x1800))
	require.False(t, g.RefInAnyHeap(0x1800))
	require.Zero(t, g.Len())
	require.Equal(t, 4, g.Cap())
}

func TestRegistryUnattachedRegionsMatchNothing(t *testing.T) {
	rt, _ := newTestRuntime(t, memory.System(), Options{})
	r := NewRegion(rt, "idle")

	for _, v := range []memory.Address{0, 4, 12, 0x1000} {
		require.False(t, r.RefInHeap(v))
		require.False(t, r.AddrInHeap(v))
	}
	require.False(t, rt.Registry.RefInAnyHeap(12))
}

func TestRegistryOverflowIsFatal(t *testing.T) {
	rt, logs := newTestRuntime(t, memory.System(), Options{MaxHeaps: 3})
	for i := 0; i < 3; i++ {
		NewRegion(rt, "ok")
	}
	requireFatal(t, herrors.CodeRegistryFull, func() { NewRegion(rt, "extra") })
	require.Equal(t, 3, rt.Registry.Len())
	require.Contains(t, logs.String(), "code=REGISTRY_FULL")
}

func TestRegistryShowAllHeaps(t *testing.T) {
	rt, _ := newTestRuntime(t, memory.System(), Options{})
	NewRegion(rt, "boot").SetRegion(0x1000, 0x5000)
	NewRegion(rt, "small")

	var buf bytes.Buffer
	rt.Registry.ShowAllHeaps(&buf)
	require.Equal(t,
		"Heap 0:                      boot:     16 Kb  at  0x00001000 .. 0x00005000\n"+
			"Heap 1:                     small:      0 Kb  at  0x00000000 .. 0x00000000\n",
		buf.String())
}

func TestRegistryPublish(t *testing.T) {
	rt, _ := newTestRuntime(t, memory.System(), Options{MaxHeaps: 2})
	a := NewRegion(rt, "a")
	b := NewRegion(rt, "b")
	a.SetRegion(0x1000, 0x2000)
	b.SetRegion(0x3000, 0x4000)

	fresh := NewBootRecord(2)
	require.NoError(t, rt.Registry.Publish(fresh))
	require.Equal(t, []uintptr{0x1000, 0x2000, 0x3000, 0x4000, 0, 0}, fresh.HeapRanges)

	require.True(t, herrors.HasCode(rt.Registry.Publish(NewBootRecord(1)), herrors.CodeBootRecordFull))
}

func TestBootRecordTooSmallIsFatal(t *testing.T) {
	if verifyAssertions {
		t.Skip("verify builds reject an undersized boot record in New")
	}
	rt, _ := newTestRuntime(t, memory.System(), Options{MaxHeaps: 3, BootRecord: NewBootRecord(1)})
	NewRegion(rt, "fits").SetRegion(0x1000, 0x2000)
	second := NewRegion(rt, "spills")
	requireFatal(t, herrors.CodeBootRecordFull, func() { second.SetRegion(0x3000, 0x4000) })
}

func TestRegionString(t *testing.T) {
	rt, _ := newTestRuntime(t, memory.System(), Options{})
	r := NewRegion(rt, "los")
	r.SetRegion(0x10000, 0x12000)

	require.Equal(t, "los[0] 0x00010000 .. 0x00012000", r.String())
}
