package mq

import (
	"b3hybrid/config"
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ConnectionPoolSize = 4
)

type RabbitMQ interface {
	GetChannel() *amqp.Channel
}

type rabbitMQImpl struct {
	logger      *zap.Logger
	rabbitmqUrl string
	context     context.Context
	connections []*MQConnection
	mu          sync.Mutex
}

type MQConnection struct {
	conn      *amqp.Connection
	closeChan chan *amqp.Error
	logger    *zap.Logger

	closed bool
	mu     sync.Mutex
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewRabbitMQ returns a pooled RabbitMQ client, or nil when RABBITMQ_URL is unset.
func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	if p.Config.RabbitMQURL == "" {
		p.Logger.Info("RABBITMQ_URL not set, seed bundles will not be announced")
		return nil
	}
	mqCtx, cancel := context.WithCancel(context.Background())

	svc := &rabbitMQImpl{
		logger:      p.Logger,
		rabbitmqUrl: p.Config.RabbitMQURL,
		context:     mqCtx,
		connections: make([]*MQConnection, 0, ConnectionPoolSize),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.logger.Debug("Initializing RabbitMQ connection pool", zap.Int("pool_size", ConnectionPoolSize))
			for range ConnectionPoolSize {
				mConn, err := svc.newMQConnection()
				if err != nil {
					svc.logger.Error("Failed to create initial RabbitMQ connection", zap.Error(err))
					return err
				}
				svc.mu.Lock()
				svc.connections = append(svc.connections, mConn)
				svc.mu.Unlock()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
	return svc
}

func (r *rabbitMQImpl) getActiveConnection() (*MQConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]*MQConnection, 0, len(r.connections))
	alive := r.connections[:0]
	for _, c := range r.connections {
		c.mu.Lock()
		if !c.closed {
			candidates = append(candidates, c)
			alive = append(alive, c)
		}
		c.mu.Unlock()
	}
	r.connections = alive

	// Replenish pool if the number of active connections is below the pool size
	for range ConnectionPoolSize - len(candidates) {
		mConn, err := r.newMQConnection()
		if err != nil {
			r.logger.Error("Failed to create new RabbitMQ connection", zap.Error(err))
			break
		}
		r.connections = append(r.connections, mConn)
		candidates = append(candidates, mConn)
	}

	if len(candidates) == 0 {
		return nil, errors.New("no active RabbitMQ connections")
	}
	return candidates[rand.IntN(len(candidates))], nil
}

func (r *rabbitMQImpl) newMQConnection() (*MQConnection, error) {
	conn, err := amqp.Dial(r.rabbitmqUrl)
	if err != nil {
		return nil, err
	}

	mConn := &MQConnection{
		conn:      conn,
		closeChan: make(chan *amqp.Error, 1),
		logger:    r.logger,
	}
	go mConn.monitor(r.context)

	return mConn, nil
}

// monitor blocks until the connection drops or ctx is done; run it in a goroutine.
func (c *MQConnection) monitor(ctx context.Context) {
	c.conn.NotifyClose(c.closeChan)

	select {
	case err := <-c.closeChan:
		c.logger.Error("RabbitMQ connection closed", zap.Error(err))
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	case <-ctx.Done():
	}

	c.conn.Close()
}

func (r *rabbitMQImpl) GetChannel() *amqp.Channel {
	conn, err := r.getActiveConnection()
	if err != nil {
		r.logger.Error("Failed to get RabbitMQ channel", zap.Error(err))
		return nil
	}

	ch, err := conn.conn.Channel()
	if err != nil {
		r.logger.Error("Failed to create RabbitMQ channel", zap.Error(err))
		return nil
	}
	return ch
}
