package seeds

import (
	"b3hybrid/internal/corpus"
	"b3hybrid/internal/types"
	"b3hybrid/internal/utils"
	"b3hybrid/pkg/database"
	"b3hybrid/pkg/mq"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	CminQueueName = "cmin_queue"

	batchSize     = 1024
	flushInterval = 1 * time.Minute
)

// SeedManager bundles queue additions into tar.gz blobs, announces them on
// the cmin queue and records them in the database. It stays idle when
// neither service is configured.
type SeedManager struct {
	rabbitMQ mq.RabbitMQ
	db       *gorm.DB
	logger   *zap.Logger

	seedFolder string
	seedChan   <-chan types.SeedMessage
	done       chan struct{}
}

type SeedManagerParams struct {
	fx.In

	Lc       fx.Lifecycle
	RabbitMQ mq.RabbitMQ `optional:"true"`
	DB       *gorm.DB    `optional:"true"`
	Store    *corpus.Store
	Logger   *zap.Logger
}

func NewSeedManager(p SeedManagerParams) (*SeedManager, error) {
	s := &SeedManager{
		rabbitMQ:   p.RabbitMQ,
		db:         p.DB,
		logger:     p.Logger.Named("seeds"),
		seedFolder: filepath.Join(os.TempDir(), "b3hybrid", "seeds"),
		done:       make(chan struct{}),
	}
	if s.rabbitMQ == nil && s.db == nil {
		s.logger.Info("no seed consumers configured, queue additions stay local")
		close(s.done)
		return s, nil
	}
	if err := os.MkdirAll(s.seedFolder, 0755); err != nil {
		return nil, fmt.Errorf("failed to create seed bundle folder: %w", err)
	}
	s.seedChan = p.Store.Subscribe(batchSize)

	seedCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Debug("starting seed manager")
			if s.rabbitMQ != nil {
				if err := s.declareCminQueue(); err != nil {
					s.logger.Error("failed to declare cmin queue", zap.Error(err))
					return err
				}
			}
			go s.start(seedCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Debug("stopping seed manager")
			cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	return s, nil
}

func (s *SeedManager) declareCminQueue() error {
	channel := s.rabbitMQ.GetChannel()
	if channel == nil {
		return errors.New("no rabbitmq channel available")
	}
	defer channel.Close()
	_, err := channel.QueueDeclare(
		CminQueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

func (s *SeedManager) start(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]types.SeedMessage, 0, batchSize)
	flush := func() {
		if len(batch) > 0 {
			s.processSeedMessages(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			// shutdown does not publish; the seeds stay in the queue directory
			if pending := len(batch) + len(s.seedChan); pending > 0 {
				s.logger.Info("seed manager stopped with unpublished seeds", zap.Int("pending", pending))
			}
			return
		case seed := <-s.seedChan:
			batch = append(batch, seed)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// processSeedMessages turns one batch into one bundle. Seeds are renamed to
// uuids inside the bundle so bundles from different sessions merge cleanly.
func (s *SeedManager) processSeedMessages(msgs []types.SeedMessage) {
	target := msgs[0].Target
	logger := s.logger.With(zap.String("harness", target.Harness), zap.Int("seeds_count", len(msgs)))
	logger.Debug("processing seed messages")

	tmpDir, err := os.MkdirTemp("", "seed-bundle-*")
	if err != nil {
		logger.Error("failed to create tmp dir for seed bundle", zap.Error(err))
		return
	}
	defer os.RemoveAll(tmpDir)

	for _, msg := range msgs {
		if err := utils.CopyFile(msg.SeedFile, filepath.Join(tmpDir, uuid.New().String())); err != nil {
			logger.Warn("failed to copy seed into bundle", zap.String("seed", msg.SeedFile), zap.Error(err))
		}
	}

	bundleName := target.Harness + "-" + uuid.New().String() + ".tar.gz"
	bundlePath := filepath.Join(s.seedFolder, bundleName)
	if err := utils.CompressTarGz(tmpDir, bundlePath); err != nil {
		logger.Error("failed to create seed bundle", zap.Error(err))
		return
	}

	if s.rabbitMQ != nil {
		if err := s.announce(target, bundlePath); err != nil {
			logger.Error("failed to announce seed bundle", zap.Error(err))
		}
	}

	if s.db != nil {
		hostname, _ := os.Hostname()
		seedEntry := database.NewSeed(
			target.SessionID,
			bundlePath,
			target.Harness,
			database.HybridFuzz,
			hostname,
			database.Metric{
				"seeds":      len(msgs),
				"generation": msgs[len(msgs)-1].Generation,
			})
		if err := database.AddSeed(context.Background(), s.db, seedEntry); err != nil {
			logger.Error("failed to save seeds to database", zap.Error(err))
		}
	}
}

func (s *SeedManager) announce(target *types.Target, bundlePath string) error {
	cminMsgBytes, err := json.Marshal(types.CminMessage{
		SessionID:    target.SessionID,
		Harness:      target.Harness,
		SeedBlobPath: bundlePath,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal CminMessage to JSON: %w", err)
	}

	channel := s.rabbitMQ.GetChannel()
	if channel == nil {
		return errors.New("no rabbitmq channel available")
	}
	defer channel.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return channel.PublishWithContext(ctx,
		"",
		CminQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        cminMsgBytes,
		},
	)
}
