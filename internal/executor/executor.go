// Package executor runs the target program once per input and collects the
// edge map it leaves behind.
package executor

import (
	"b3hybrid/internal/types"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// InputPlaceholder in the target arguments is replaced by the input file path.
const InputPlaceholder = "@@"

type Options struct {
	Program    string
	Args       []string
	InputFile  string // written before each run when Args use InputPlaceholder
	MemLimitMB uint64 // address space limit of the child, 0 for none
	Timeout    time.Duration
}

type Result struct {
	Status   types.RunStatus
	Signal   syscall.Signal // terminating signal of a crash
	Trace    []byte
	Duration time.Duration
}

// Executor forks the target. Runs are serialized by a fork lock since every
// run shares one input file and one bitmap.
type Executor struct {
	opts    Options
	useFile bool
	bitmap  Bitmap
	logger  *zap.Logger

	forkLock sync.Mutex
	execs    uint64
}

func New(opts Options, bitmap Bitmap, logger *zap.Logger) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	useFile := false
	for _, arg := range opts.Args {
		if strings.Contains(arg, InputPlaceholder) {
			useFile = true
			break
		}
	}
	return &Executor{
		opts:    opts,
		useFile: useFile,
		bitmap:  bitmap,
		logger:  logger.Named("executor"),
	}
}

// Run executes the target on data and blocks until it exits or its time
// limit elapses. A non-nil error means the target could not be run at all,
// or ctx was cancelled.
func (e *Executor) Run(ctx context.Context, data []byte) (Result, error) {
	e.forkLock.Lock()
	defer e.forkLock.Unlock()

	if e.useFile {
		if err := os.WriteFile(e.opts.InputFile, data, 0600); err != nil {
			return Result{}, fmt.Errorf("failed to write input file: %w", err)
		}
	}
	e.bitmap.Reset()

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.opts.Program, e.buildArgs()...)
	cmd.Env = append(append(os.Environ(), defaultTargetEnv()...), e.bitmap.Env()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// the whole process group, so forked grandchildren die too
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	if !e.useFile {
		cmd.Stdin = bytes.NewReader(data)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start %s: %w", e.opts.Program, err)
	}
	e.limitMemory(cmd.Process.Pid)
	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	e.execs++

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	result := Result{Status: types.RunOk, Trace: e.bitmap.Snapshot(), Duration: elapsed}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.Status = types.RunTimeout
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Status = types.RunCrash
			result.Signal = ws.Signal()
		}
		return result, nil
	}
	if waitErr != nil {
		return Result{}, fmt.Errorf("failed to wait for %s: %w", e.opts.Program, waitErr)
	}
	return result, nil
}

// Execs is the number of completed runs.
func (e *Executor) Execs() uint64 {
	e.forkLock.Lock()
	defer e.forkLock.Unlock()
	return e.execs
}

func (e *Executor) Close() error {
	return e.bitmap.Close()
}

// limitMemory caps the child's address space right after it started. The
// target runs unlimited between exec and this call; os/exec has no hook to set
// rlimits in the child before exec, and lowering our own limit around Start
// would starve the other goroutines.
func (e *Executor) limitMemory(pid int) {
	if e.opts.MemLimitMB == 0 {
		return
	}
	limit := e.opts.MemLimitMB << 20
	rlimit := &unix.Rlimit{Cur: limit, Max: limit}
	if err := unix.Prlimit(pid, unix.RLIMIT_AS, rlimit, nil); err != nil {
		e.logger.Warn("failed to set memory limit", zap.Int("pid", pid), zap.Error(err))
	}
}

func (e *Executor) buildArgs() []string {
	if !e.useFile {
		return e.opts.Args
	}
	args := make([]string, len(e.opts.Args))
	for i, arg := range e.opts.Args {
		args[i] = strings.ReplaceAll(arg, InputPlaceholder, e.opts.InputFile)
	}
	return args
}

// sanitizers must die by signal for a crash to be told apart from a plain non-zero exit
func defaultTargetEnv() []string {
	return []string{
		"ASAN_OPTIONS=abort_on_error=1:detect_leaks=0:symbolize=0:allocator_may_return_null=1",
		"UBSAN_OPTIONS=halt_on_error=1:abort_on_error=1:symbolize=0",
		"MSAN_OPTIONS=exit_code=86:abort_on_error=1:symbolize=0",
	}
}
