package executor

import (
	"b3hybrid/config"
	"b3hybrid/internal/session"
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ExecutorParams struct {
	fx.In

	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Paths     session.Paths
	Logger    *zap.Logger
}

// NewExecutor runs the configured target against a fresh shared memory bitmap,
// released when the app stops.
func NewExecutor(params ExecutorParams) (*Executor, error) {
	bitmap, err := NewShmBitmap()
	if err != nil {
		return nil, err
	}

	target := params.AppConfig.Target
	e := New(Options{
		Program:    target.Program,
		Args:       target.Args,
		InputFile:  params.Paths.CurInput(),
		MemLimitMB: uint64(target.MemLimitMB),
		Timeout:    target.TimeLimit,
	}, bitmap, params.Logger)

	params.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			e.logger.Debug("releasing coverage bitmap", zap.Uint64("execs", e.Execs()))
			return e.Close()
		},
	})
	return e, nil
}
