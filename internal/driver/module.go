package driver

import (
	"b3hybrid/config"
	"b3hybrid/internal/coverage"
	"b3hybrid/internal/fuzz"
	"b3hybrid/internal/handshake"
	"b3hybrid/internal/session"
	"b3hybrid/internal/syncdir"
	"b3hybrid/internal/types"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the session core. The driver starts with the app.
var Module = fx.Options(
	fx.Provide(
		newPaths,
		newTarget,
		newNovelty,
		newRegistry,
		newPipe,
		newIngester,
		newProtocol,
	),
	fx.Invoke(NewDriver),
)

func newPaths(appConfig *config.AppConfig, logger *zap.Logger) (session.Paths, error) {
	opts := []session.Option{session.WithLogger(logger.Named("session"))}
	if appConfig.Session.SyncAFL {
		opts = append(opts, session.WithAFLSync())
	}
	return session.Initialize(appConfig.Session.InputDir, appConfig.Session.OutputDir, opts...)
}

func newTarget(appConfig *config.AppConfig, logger *zap.Logger) *types.Target {
	target := types.NewTarget(appConfig.Target.Program)
	logger.Info("new session", zap.String("session_id", target.SessionID), zap.String("harness", target.Harness))
	return target
}

func newNovelty() *coverage.Novelty {
	return &coverage.Novelty{}
}

func newRegistry(novelty *coverage.Novelty, appConfig *config.AppConfig) *coverage.Registry {
	return coverage.NewRegistry(novelty, uint32(appConfig.Fuzz.FlipLimit))
}

func newPipe(appConfig *config.AppConfig, logger *zap.Logger) *handshake.NamedPipe {
	path := appConfig.Solver.PipePath
	if info, err := os.Stat(path); err != nil {
		logger.Warn("solver pipe does not exist yet", zap.String("pipe", path), zap.Error(err))
	} else if info.Mode()&os.ModeNamedPipe == 0 {
		logger.Warn("solver pipe is not a named pipe", zap.String("pipe", path))
	}
	return handshake.NewNamedPipe(path)
}

func newIngester(appConfig *config.AppConfig, engine *fuzz.Engine, logger *zap.Logger) *syncdir.Ingester {
	return syncdir.NewIngester(appConfig.Solver.SyncDir, engine, logger)
}

func newProtocol(pipe *handshake.NamedPipe, novelty *coverage.Novelty, ingester *syncdir.Ingester, logger *zap.Logger) *handshake.Protocol {
	return handshake.NewProtocol(pipe, novelty, ingester, logger)
}
