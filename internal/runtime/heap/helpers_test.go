package heap

import (
	"bytes"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	herrors "github.com/orizon-lang/heapregion/internal/errors"
	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

// panicOnFail turns fatal conditions into panics the test can recover.
func panicOnFail(err error) { panic(err) }

// newTestRuntime builds a runtime over m whose log lines land in the
// returned buffer.
func newTestRuntime(t *testing.T, m memory.Mapper, opts Options) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.Mapper = m
	opts.Logger = log.NewLogfmtLogger(log.NewSyncWriter(&buf))
	opts.Fail = panicOnFail
	return New(opts), &buf
}

// requireFatal runs fn and checks that it stops with the given code.
func requireFatal(t *testing.T, code string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected fatal %s", code)
		err, ok := r.(error)
		require.True(t, ok, "fatal value %v is not an error", r)
		require.Equal(t, code, herrors.CodeOf(err), "unexpected fatal: %v", err)
	}()
	fn()
}

func requireConsistent(t *testing.T, r *Region) {
	t.Helper()
	require.True(t, r.Start().LE(r.End()))
	require.Equal(t, r.End().Diff(r.Start()), r.Size())
	require.Equal(t, r.rt.Model.MinRef(r.Start()), r.MinRef())
	require.Equal(t, r.rt.Model.MaxRef(r.End()), r.MaxRef())
	start, end := r.rt.BootRecord.Range(r.ID())
	require.Equal(t, r.Start(), start)
	require.Equal(t, r.End(), end)
}
