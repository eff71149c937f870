package syncdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// UnscoredRunner executes an input for coverage only, without queueing it.
type UnscoredRunner interface {
	RunUnscored(ctx context.Context, data []byte) error
}

// Ingester drains the solver's sync directory into the execution engine.
type Ingester struct {
	dir    string
	runner UnscoredRunner
	logger *zap.Logger
}

func NewIngester(dir string, runner UnscoredRunner, logger *zap.Logger) *Ingester {
	return &Ingester{dir, runner, logger.Named("sync")}
}

// Ingest hands every non-empty regular file currently in the sync directory to
// the runner, once. Empty files are writes still in flight and are skipped.
// Files are left in place; the solver owns their lifecycle.
//
// Every failure is returned: a missing directory or an unreadable file means
// the solver and this process disagree about the directory's state.
func (i *Ingester) Ingest(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to open sync dir %s: %w", i.dir, err)
	}

	ingested := 0
	for _, entry := range entries {
		path := filepath.Join(i.dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			return ingested, fmt.Errorf("failed to stat sync entry %s: %w", path, err)
		}
		if !info.Mode().IsRegular() || info.Size() == 0 {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return ingested, fmt.Errorf("failed to read sync entry %s: %w", path, err)
		}
		if err := i.runner.RunUnscored(ctx, content); err != nil {
			return ingested, fmt.Errorf("failed to run sync entry %s: %w", path, err)
		}
		ingested++
	}

	i.logger.Debug("sync dir ingested", zap.String("dir", i.dir), zap.Int("files", ingested))
	return ingested, nil
}
