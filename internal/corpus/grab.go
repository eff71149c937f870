package corpus

import (
	"b3hybrid/internal/types"
	"b3hybrid/internal/utils"
	"b3hybrid/pkg/telemetry"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SeedCollector gathers the bootstrap seeds of a session: the seed directory
// first, then whatever the optional grabbers can fetch for the harness.
type SeedCollector struct {
	grabbers []Grabber
	target   *types.Target
	logger   *zap.Logger
}

type SeedCollectorParams struct {
	fx.In

	Logger          *zap.Logger
	Target          *types.Target
	CminSeedGrabber *CminSeedGrabber
	DBSeedGrabber   *DBSeedGrabber
}

func NewSeedCollector(params SeedCollectorParams) *SeedCollector {
	return &SeedCollector{
		grabbers: []Grabber{
			params.CminSeedGrabber,
			params.DBSeedGrabber,
		},
		target: params.Target,
		logger: params.Logger.Named("seeds"),
	}
}

// Collect calls visit with every non-empty regular file of seedsDir and of
// the grabbed blobs. Hidden entries are skipped. A missing seedsDir is an
// error, grabber failures are not.
func (s *SeedCollector) Collect(ctx context.Context, seedsDir string, visit func(path string, data []byte) error) (int, error) {
	tracer := telemetry.FromContext(ctx).Spawn("collecting seeds")
	tracer.Start()
	defer tracer.End()

	count, err := walkSeeds(seedsDir, visit)
	if err != nil {
		return count, err
	}
	s.logger.Info("collected seeds from seed directory", zap.String("dir", seedsDir), zap.Int("seed_count", count))

	for _, grabber := range s.grabbers {
		if grabber == nil || reflect.ValueOf(grabber).IsNil() {
			continue // optional service not configured
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}
		n, err := s.collectFrom(ctx, grabber, visit)
		if err != nil {
			s.logger.Warn("failed to collect grabbed seeds",
				zap.String("grabber", reflect.TypeOf(grabber).String()),
				zap.Error(err))
			continue
		}
		count += n
	}

	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithCorpusSize(count))
	return count, nil
}

func (s *SeedCollector) collectFrom(ctx context.Context, grabber Grabber, visit func(string, []byte) error) (int, error) {
	blob, err := grabber.GrabCorpusBlob(ctx, s.target.Harness)
	if err != nil {
		return 0, err
	}
	staging, err := os.MkdirTemp("", "b3hybrid-seeds-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := utils.UnpackTarGz(blob, staging); err != nil {
		return 0, err
	}
	n, err := walkSeeds(staging, visit)
	s.logger.Info("collected grabbed seeds",
		zap.String("grabber", reflect.TypeOf(grabber).String()),
		zap.String("blob", blob),
		zap.Int("seed_count", n))
	return n, err
}

func walkSeeds(dir string, visit func(path string, data []byte) error) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || info.Size() == 0 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		count++
		return visit(path, data)
	})
	if err != nil {
		return count, fmt.Errorf("failed to collect seeds from %s: %w", dir, err)
	}
	return count, nil
}
