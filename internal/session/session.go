// Package session resolves the seed and output directories of a fuzzing
// session: either a fresh output tree, or a resumed one where the previous
// tree is archived and its queue becomes the new seed source.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// ResumeMarker as the input directory asks to resume the previous session
	ResumeMarker = "-"

	InputsDir  = "queue"
	CrashesDir = "crashes"
	HangsDir   = "hangs"
	CurInput   = "cur_input"

	aflSyncDirName = "angora"
)

var ErrOutputExists = errors.New("output directory already exists")

type Paths struct {
	SeedsDir   string
	OutputDir  string
	ArchiveDir string // previous output tree, set only when resuming
}

func (p Paths) Resumed() bool {
	return p.ArchiveDir != ""
}

func (p Paths) QueueDir() string   { return filepath.Join(p.OutputDir, InputsDir) }
func (p Paths) CrashesDir() string { return filepath.Join(p.OutputDir, CrashesDir) }
func (p Paths) HangsDir() string   { return filepath.Join(p.OutputDir, HangsDir) }
func (p Paths) CurInput() string   { return filepath.Join(p.OutputDir, CurInput) }

type options struct {
	aflSync bool
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*options)

// WithAFLSync nests the output tree under <outDir>/angora so it can sit next
// to AFL instances sharing the same sync directory.
func WithAFLSync() Option {
	return func(o *options) { o.aflSync = true }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Initialize prepares the directories of a session. Any failure leaves the
// caller without a usable session; nothing is rolled back.
func Initialize(inDir, outDir string, opts ...Option) (Paths, error) {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.aflSync {
		var err error
		if outDir, err = aflSyncPath(outDir, o.logger); err != nil {
			return Paths{}, err
		}
	}

	paths := Paths{SeedsDir: inDir, OutputDir: outDir}
	if inDir == ResumeMarker {
		archive, err := archive(outDir, o.now())
		if err != nil {
			return Paths{}, err
		}
		o.logger.Info("archived previous session", zap.String("from", outDir), zap.String("to", archive))
		paths.ArchiveDir = archive
		paths.SeedsDir = filepath.Join(archive, InputsDir)
	}

	if err := os.Mkdir(outDir, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return Paths{}, fmt.Errorf("%w: %s", ErrOutputExists, outDir)
		}
		return Paths{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, dir := range []string{paths.QueueDir(), paths.CrashesDir(), paths.HangsDir()} {
		if err := os.Mkdir(dir, 0755); err != nil {
			return Paths{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return paths, nil
}

// archive renames the output tree to <outDir>.<timestamp>. Two resumes within
// the same clock tick get a uuid suffix instead of colliding.
func archive(outDir string, now time.Time) (string, error) {
	target := fmt.Sprintf("%s.%s", filepath.Clean(outDir), now.Format(time.RFC3339Nano))
	if _, err := os.Lstat(target); err == nil {
		target = fmt.Sprintf("%s-%s", target, uuid.New().String())
	}
	if err := os.Rename(outDir, target); err != nil {
		return "", fmt.Errorf("failed to archive previous output directory: %w", err)
	}
	return target, nil
}

func aflSyncPath(outDir string, logger *zap.Logger) (string, error) {
	if err := os.Mkdir(outDir, 0755); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create sync base directory: %w", err)
		}
		logger.Warn("sync base directory already exists", zap.String("dir", outDir))
	}
	return filepath.Join(outDir, aflSyncDirName), nil
}
