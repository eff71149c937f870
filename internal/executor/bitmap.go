package executor

import (
	"b3hybrid/internal/coverage"
	"fmt"

	"github.com/gen2brain/shm"
)

const (
	// ShmEnvVar tells an AFL-instrumented target where its edge map lives.
	ShmEnvVar = "__AFL_SHM_ID"

	ipcPrivate = 0
	shmPerm    = 0600
)

// Bitmap is the edge map shared with the target process.
type Bitmap interface {
	Env() []string  // environment exposing the map to the child
	Reset()         // zero the map before a run
	Snapshot() []byte
	Close() error
}

// ShmBitmap is a System V shared memory segment of coverage.MapSize bytes.
type ShmBitmap struct {
	id  int
	buf []byte
}

func NewShmBitmap() (*ShmBitmap, error) {
	id, err := shm.Get(ipcPrivate, coverage.MapSize, shmPerm|shm.IPC_CREAT|shm.IPC_EXCL)
	if err != nil {
		return nil, fmt.Errorf("failed to create coverage shared memory: %w", err)
	}
	buf, err := shm.At(id, 0, 0)
	if err != nil {
		shm.Ctl(id, shm.IPC_RMID, nil)
		return nil, fmt.Errorf("failed to attach coverage shared memory: %w", err)
	}
	return &ShmBitmap{id, buf}, nil
}

func (b *ShmBitmap) Env() []string {
	return []string{fmt.Sprintf("%s=%d", ShmEnvVar, b.id)}
}

func (b *ShmBitmap) Reset() {
	clear(b.buf)
}

func (b *ShmBitmap) Snapshot() []byte {
	return append([]byte(nil), b.buf...)
}

// Close detaches and removes the segment.
func (b *ShmBitmap) Close() error {
	if err := shm.Dt(b.buf); err != nil {
		return fmt.Errorf("failed to detach coverage shared memory: %w", err)
	}
	if _, err := shm.Ctl(b.id, shm.IPC_RMID, nil); err != nil {
		return fmt.Errorf("failed to remove coverage shared memory: %w", err)
	}
	return nil
}

// MemBitmap is a process-local map, for targets without instrumentation and for tests.
type MemBitmap struct {
	Buf []byte
}

func NewMemBitmap() *MemBitmap {
	return &MemBitmap{Buf: make([]byte, coverage.MapSize)}
}

func (b *MemBitmap) Env() []string    { return nil }
func (b *MemBitmap) Reset()           { clear(b.Buf) }
func (b *MemBitmap) Snapshot() []byte { return append([]byte(nil), b.Buf...) }
func (b *MemBitmap) Close() error     { return nil }
