package handshake

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Pipe is the solver channel. Every call is one transient open/transfer/close.
type Pipe interface {
	Send(ctx context.Context, msg string) error
	Receive(ctx context.Context) (string, error)
}

// NamedPipe is a FIFO on the filesystem. Opening one end blocks until the
// solver opens the other end; there is no timeout. Cancelling ctx abandons a
// blocked open, which is only meant for process shutdown.
type NamedPipe struct {
	path string
}

func NewNamedPipe(path string) *NamedPipe {
	return &NamedPipe{path}
}

func (p *NamedPipe) Send(ctx context.Context, msg string) error {
	f, err := p.open(ctx, os.O_WRONLY)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.WriteString(f, msg); err != nil {
		return fmt.Errorf("failed to write %q to pipe: %w", msg, err)
	}
	return nil
}

func (p *NamedPipe) Receive(ctx context.Context) (string, error) {
	f, err := p.open(ctx, os.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read pipe: %w", err)
	}
	return string(content), nil
}

func (p *NamedPipe) open(ctx context.Context, flag int) (*os.File, error) {
	type opened struct {
		f   *os.File
		err error
	}
	result := make(chan opened, 1)
	go func() {
		f, err := os.OpenFile(p.path, flag, 0)
		result <- opened{f, err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return nil, fmt.Errorf("failed to open pipe %s: %w", p.path, r.err)
		}
		return r.f, nil
	case <-ctx.Done():
		// the open stays blocked until the solver shows up; close whatever it yields
		go func() {
			if r := <-result; r.f != nil {
				r.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// CreateFIFO makes the pipe if it does not exist yet. The solver normally owns it.
func CreateFIFO(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a named pipe", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	if err := unix.Mkfifo(path, 0666); err != nil {
		return fmt.Errorf("failed to create named pipe %s: %w", path, err)
	}
	return nil
}
