package corpus

import (
	"b3hybrid/internal/utils"
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CminKeyTmpl is where the corpus minimizer publishes its latest blob for a harness.
const CminKeyTmpl = "cmin:%s"

type CminSeedGrabber struct {
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewCminSeedGrabber(redisClient *redis.Client, logger *zap.Logger) *CminSeedGrabber {
	if redisClient == nil {
		return nil
	}
	return &CminSeedGrabber{redisClient, logger.Named("cmin")}
}

// GrabCorpusBlob returns the minimized corpus blob recorded in redis.
func (s *CminSeedGrabber) GrabCorpusBlob(ctx context.Context, harness string) (string, error) {
	key := fmt.Sprintf(CminKeyTmpl, harness)

	seedPath, err := s.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("no seed found for harness %s in redis", harness)
	}
	if err != nil {
		return "", err
	}

	s.logger.Info("Got seed from cmin",
		zap.String("harness", harness),
		zap.String("seedPath", seedPath))

	fileInfo, err := os.Stat(seedPath)
	if err != nil {
		return "", fmt.Errorf("seed blob %s is not accessible: %w", seedPath, err)
	}
	if fileInfo.Size() == 0 {
		return "", fmt.Errorf("seed blob %s is empty", seedPath)
	}
	if !utils.IsTarGz(seedPath) {
		return "", fmt.Errorf("seed blob %s is not a valid tar.gz file", seedPath)
	}

	return seedPath, nil
}
