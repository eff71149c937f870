package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"b3hybrid/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newShellExecutor(t *testing.T, script string, extra ...string) *Executor {
	t.Helper()
	args := append([]string{"-c", script}, extra...)
	return New(Options{
		Program:   "/bin/sh",
		Args:      args,
		InputFile: filepath.Join(t.TempDir(), "cur_input"),
		Timeout:   2 * time.Second,
	}, NewMemBitmap(), zaptest.NewLogger(t))
}

func TestRunFeedsStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	e := newShellExecutor(t, "cat > "+out)

	result, err := e.Run(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, types.RunOk, result.Status)
	assert.Len(t, result.Trace, len(NewMemBitmap().Buf))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, uint64(1), e.Execs())
}

func TestRunSubstitutesInputFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	e := newShellExecutor(t, `cp "$0" `+out, InputPlaceholder)

	_, err := e.Run(context.Background(), []byte("from file"))
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "from file", string(got))
}

func TestRunNonZeroExitIsNotACrash(t *testing.T) {
	e := newShellExecutor(t, "exit 3")

	result, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunOk, result.Status)
}

func TestRunDetectsCrash(t *testing.T) {
	e := newShellExecutor(t, "kill -SEGV $$")

	result, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunCrash, result.Status)
	assert.Equal(t, syscall.SIGSEGV, result.Signal)
}

func TestRunDetectsTimeout(t *testing.T) {
	e := New(Options{
		Program: "/bin/sh",
		Args:    []string{"-c", "sleep 10"},
		Timeout: 100 * time.Millisecond,
	}, NewMemBitmap(), zaptest.NewLogger(t))

	start := time.Now()
	result, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunTimeout, result.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newShellExecutor(t, "true")
	_, err := e.Run(ctx, nil)
	require.Error(t, err)
}

func TestRunMissingProgram(t *testing.T) {
	e := New(Options{Program: filepath.Join(t.TempDir(), "missing")}, NewMemBitmap(), zaptest.NewLogger(t))

	_, err := e.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestRunResetsBitmap(t *testing.T) {
	bitmap := NewMemBitmap()
	bitmap.Buf[7] = 3
	e := New(Options{Program: "/bin/true"}, bitmap, zaptest.NewLogger(t))

	result, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Trace[7])
}

func TestRunAppliesMemoryLimit(t *testing.T) {
	out := filepath.Join(t.TempDir(), "limit")
	e := New(Options{
		Program:    "/bin/sh",
		Args:       []string{"-c", "sleep 0.2; ulimit -v > " + out},
		InputFile:  filepath.Join(t.TempDir(), "cur_input"),
		MemLimitMB: 64,
		Timeout:    2 * time.Second,
	}, NewMemBitmap(), zaptest.NewLogger(t))

	result, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunOk, result.Status)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "65536", strings.TrimSpace(string(got)))
}
