package corpus

import (
	"b3hybrid/internal/utils"
	"b3hybrid/pkg/database"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBSeedGrabber merges the seed bundles earlier sessions recorded for the harness.
type DBSeedGrabber struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewDBSeedGrabber(db *gorm.DB, logger *zap.Logger) *DBSeedGrabber {
	if db == nil {
		return nil
	}
	return &DBSeedGrabber{db, logger.Named("dbseeds")}
}

func (s *DBSeedGrabber) GrabCorpusBlob(ctx context.Context, harness string) (string, error) {
	var paths []string

	rawSQL := `
SELECT path
FROM public.seeds
WHERE
  harness_name = @harness
  AND fuzzer IN (@hybrid, @solver)
ORDER BY created_at DESC
LIMIT 10
	`

	err := s.db.WithContext(ctx).Raw(rawSQL,
		sql.Named("harness", harness),
		sql.Named("hybrid", string(database.HybridFuzz)),
		sql.Named("solver", string(database.SolverSync)),
	).Scan(&paths).Error
	if err != nil {
		return "", err
	}

	if len(paths) == 0 {
		s.logger.Info("No seeds found in db", zap.String("harness", harness))
		return "", errors.New("no seeds found in database")
	}

	wholeBlob, err := os.MkdirTemp("", "b3hybrid-dbseeds-*")
	if err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	defer os.RemoveAll(wholeBlob)
	tarFilePath := filepath.Join(os.TempDir(), fmt.Sprintf("b3hybrid_%s_dbseeds.tar.gz", harness))

	// unpack every bundle into one folder, then pack that folder as a single blob
	for _, path := range paths {
		if err := utils.UnpackTarGz(path, wholeBlob); err != nil {
			s.logger.Error("Failed to unpack tar file", zap.String("path", path), zap.Error(err))
			continue
		}
	}
	if err := utils.CompressTarGz(wholeBlob, tarFilePath); err != nil {
		return "", fmt.Errorf("failed to create tar file: %w", err)
	}

	s.logger.Info("Got seeds in db", zap.String("harness", harness), zap.Int("bundles", len(paths)))

	return tarFilePath, nil
}
