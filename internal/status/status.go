package status

import (
	"b3hybrid/internal/types"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	SessionKeyTmpl = "b3hybrid:session:%s" // b3hybrid:session:<session_id>
	SessionsKey    = "b3hybrid:sessions"
	sessionTTL     = 10 * time.Minute
)

// Snapshot is the state of a session after a generation.
type Snapshot struct {
	Generation uint64
	Execs      uint64
	Queue      int
	Crashes    int
	Hangs      int
	Edges      int
	Pacing     uint32
}

type Reporter interface {
	Report(ctx context.Context, snapshot Snapshot) error
}

type ReporterParams struct {
	fx.In

	RedisClient *redis.Client `optional:"true"`
	Target      *types.Target
	Logger      *zap.Logger
}

// NewReporter publishes session heartbeats to redis, or only logs them when
// redis is not configured.
func NewReporter(p ReporterParams) Reporter {
	logger := p.Logger.Named("status")
	if p.RedisClient == nil {
		return &logReporter{logger}
	}
	return NewRedisReporter(p.RedisClient, p.Target, logger)
}

type logReporter struct {
	logger *zap.Logger
}

func (r *logReporter) Report(ctx context.Context, s Snapshot) error {
	r.logger.Info("generation done", fields(s)...)
	return nil
}

type RedisReporter struct {
	redisClient *redis.Client
	target      *types.Target
	logger      *zap.Logger
}

func NewRedisReporter(redisClient *redis.Client, target *types.Target, logger *zap.Logger) *RedisReporter {
	return &RedisReporter{redisClient, target, logger}
}

// Report writes the snapshot into the session hash and refreshes its TTL, so
// a session that stopped reporting expires on its own.
func (r *RedisReporter) Report(ctx context.Context, s Snapshot) error {
	r.logger.Info("generation done", fields(s)...)

	key := fmt.Sprintf(SessionKeyTmpl, r.target.SessionID)
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"harness", r.target.Harness,
			"program", r.target.Program,
			"generation", s.Generation,
			"execs", s.Execs,
			"queue", s.Queue,
			"crashes", s.Crashes,
			"hangs", s.Hangs,
			"edges", s.Edges,
			"pacing", s.Pacing,
			"updated_at", time.Now().Unix(),
		)
		pipe.Expire(ctx, key, sessionTTL)
		pipe.SAdd(ctx, SessionsKey, r.target.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish session status: %w", err)
	}
	return nil
}

func fields(s Snapshot) []zap.Field {
	return []zap.Field{
		zap.Uint64("generation", s.Generation),
		zap.Uint64("execs", s.Execs),
		zap.Int("queue", s.Queue),
		zap.Int("crashes", s.Crashes),
		zap.Int("hangs", s.Hangs),
		zap.Int("edges", s.Edges),
		zap.Uint32("pacing", s.Pacing),
	}
}
