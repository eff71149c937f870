package database

import (
	"b3hybrid/config"
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RedisParams struct {
	fx.In

	Config *config.AppConfig
	Logger *zap.Logger
}

// NewRedisClient connects either directly (OVERRIDE_REDIS_URL) or through
// sentinels. It returns a nil client when neither is configured.
func NewRedisClient(p RedisParams) (*redis.Client, error) {
	var client *redis.Client
	var err error

	switch {
	case p.Config.RedisUrl != "":
		client, err = newRedisClient(p.Config.RedisUrl)
	case p.Config.RedisSentinelHosts != "" && p.Config.RedisMasterName != "":
		client, err = newRedisFailoverClient(p.Config.RedisSentinelHosts, p.Config.RedisMasterName)
	default:
		p.Logger.Info("redis not configured, session status will not be published")
		return nil, nil
	}
	if err != nil {
		p.Logger.Error("Failed to create Redis client", zap.Error(err))
		return nil, err
	}

	p.Logger.Debug("Redis client created successfully")
	return client, nil
}

func newRedisFailoverClient(redisSentinelHostsString, redisMasterName string) (*redis.Client, error) {
	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    redisMasterName,
		SentinelAddrs: strings.Split(redisSentinelHostsString, ","),
		DB:            0,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

func newRedisClient(redisUrl string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
