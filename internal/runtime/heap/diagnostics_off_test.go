//go:build !debug && (linux || darwin)

package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/heapregion/internal/runtime/memory"
	"github.com/orizon-lang/heapregion/internal/runtime/memory/memtest"
)

func TestDiagnosticsSkippedWithoutDebugBuild(t *testing.T) {
	rt, logs := newTestRuntime(t, memtest.New(t), Options{})
	r := NewRegion(rt, "nursery")
	r.Attach(4096)
	memory.StoreWord(r.Start().Add(16), 0x1234)

	r.Clobber()
	require.Equal(t, uint32(0x1234), memory.LoadWord(r.Start().Add(16)))
	require.Zero(t, r.ParanoidScan(r, true))

	out := logs.String()
	require.Contains(t, out, "clobber skipped")
	require.Contains(t, out, "paranoid scan skipped")
}
