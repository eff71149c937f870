// Package driver runs a hybrid fuzzing session: bootstrap the corpus, then
// for every generation wait for the solver, fuzz, and grade.
package driver

import (
	"b3hybrid/internal/corpus"
	"b3hybrid/internal/fuzz"
	"b3hybrid/internal/handshake"
	"b3hybrid/internal/session"
	"b3hybrid/internal/status"
	"b3hybrid/internal/types"
	"b3hybrid/pkg/database"
	"b3hybrid/pkg/telemetry"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExitEngineFailure ends the process when the target can no longer be run.
const ExitEngineFailure = 5

type Engine interface {
	Import(ctx context.Context, data []byte) (bool, error)
	RunScored(ctx context.Context, gen uint64) ([]types.Candidate, error)
	RunGraded(ctx context.Context, gen uint64, candidates []types.Candidate) (fuzz.GradeReport, error)
	Stats() fuzz.Stats
}

type Awaiter interface {
	Await(ctx context.Context, pacing *handshake.Pacing) error
}

type Collector interface {
	Collect(ctx context.Context, seedsDir string, visit func(path string, data []byte) error) (int, error)
}

type Driver struct {
	awaiter       Awaiter
	engine        Engine
	collector     Collector
	reporter      status.Reporter
	db            *gorm.DB
	paths         session.Paths
	target        *types.Target
	tracerFactory *telemetry.TracerFactory
	logger        *zap.Logger

	pacing handshake.Pacing // owned by the Run goroutine
	gen    uint64
	done   chan struct{}
}

type DriverParams struct {
	fx.In

	Lc            fx.Lifecycle
	Shutdowner    fx.Shutdowner
	Protocol      *handshake.Protocol
	Engine        *fuzz.Engine
	Collector     *corpus.SeedCollector
	Reporter      status.Reporter
	DB            *gorm.DB `optional:"true"`
	Paths         session.Paths
	Target        *types.Target
	TracerFactory *telemetry.TracerFactory
	Logger        *zap.Logger
}

func NewDriver(params DriverParams) *Driver {
	d := &Driver{
		awaiter:       params.Protocol,
		engine:        params.Engine,
		collector:     params.Collector,
		reporter:      params.Reporter,
		db:            params.DB,
		paths:         params.Paths,
		target:        params.Target,
		tracerFactory: params.TracerFactory,
		logger:        params.Logger.Named("driver"),
		done:          make(chan struct{}),
	}

	if d.db != nil {
		if err := database.MigrateGenerations(d.db); err != nil {
			d.logger.Warn("failed to migrate generation table", zap.Error(err))
		}
	}

	driverCtx, cancel := context.WithCancel(context.Background())
	params.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go d.start(driverCtx, params.Shutdowner)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-d.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})
	return d
}

// start runs the session and turns its end into the process exit code.
func (d *Driver) start(ctx context.Context, shutdowner fx.Shutdowner) {
	defer close(d.done)

	err := d.Run(ctx)
	if ctx.Err() != nil {
		d.logger.Info("session interrupted", zap.Uint64("generation", d.gen))
		return
	}

	code := ExitCode(err)
	if code == handshake.ExitStopped {
		d.logger.Info("session stopped by solver", zap.Uint64("generations", d.gen))
	} else {
		d.logger.Error("session failed", zap.Int("exit_code", code), zap.Error(err))
	}
	if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
		d.logger.Error("failed to shut down", zap.Error(err))
	}
}

// ExitCode maps the error that ended Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return handshake.ExitStopped
	}
	var exitErr *handshake.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitEngineFailure
}

// Run bootstraps the corpus and then loops over generations until the solver
// stops the session or something fails. It never returns nil.
func (d *Driver) Run(ctx context.Context) error {
	tracer := d.tracerFactory.NewTracer(ctx, "hybrid session").
		WithAttributes(telemetry.NewSpanAttributes(telemetry.Session).
			WithExtraAttribute("session.id", d.target.SessionID).
			WithExtraAttribute("session.harness", d.target.Harness))
	tracer.Start()
	defer tracer.End()
	ctx = context.WithValue(ctx, telemetry.TracerKey{}, tracer)

	if err := d.bootstrap(ctx); err != nil {
		tracer.SetStatus(codes.Error, "bootstrap failed")
		return err
	}

	for {
		if err := d.awaiter.Await(ctx, &d.pacing); err != nil {
			return err
		}
		if err := d.step(ctx); err != nil {
			tracer.SetStatus(codes.Error, "generation failed")
			return err
		}
		d.gen++
	}
}

func (d *Driver) bootstrap(ctx context.Context) error {
	queued := 0
	seen, err := d.collector.Collect(ctx, d.paths.SeedsDir, func(path string, data []byte) error {
		ok, err := d.engine.Import(ctx, data)
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		if ok {
			queued++
		}
		return nil
	})
	if err != nil {
		return d.engineFailure(ctx, fmt.Errorf("bootstrap: %w", err))
	}

	d.logger.Info("bootstrap done",
		zap.String("seeds_dir", d.paths.SeedsDir),
		zap.Bool("resumed", d.paths.Resumed()),
		zap.Int("seeds", seen),
		zap.Int("queued", queued))
	if d.engine.Stats().Queue == 0 {
		d.logger.Error("corpus is empty after bootstrap, fuzzing has nothing to mutate", zap.String("seeds_dir", d.paths.SeedsDir))
	}
	return nil
}

func (d *Driver) step(ctx context.Context) error {
	tracer := telemetry.FromContext(ctx).Spawn(fmt.Sprintf("generation %d", d.gen))
	tracer.Start()
	defer tracer.End()
	genCtx := context.WithValue(ctx, telemetry.TracerKey{}, tracer)
	start := time.Now()

	candidates, err := d.engine.RunScored(genCtx, d.gen)
	if err != nil {
		return d.engineFailure(ctx, err)
	}
	report, err := d.engine.RunGraded(genCtx, d.gen, candidates)
	if err != nil {
		return d.engineFailure(ctx, err)
	}

	stats := d.engine.Stats()
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Fuzzing).
		WithGeneration(d.gen).
		WithCandidates(len(candidates)).
		WithCorpusSize(stats.Queue))

	snapshot := status.Snapshot{
		Generation: d.gen,
		Execs:      stats.Execs,
		Queue:      stats.Queue,
		Crashes:    stats.Crashes,
		Hangs:      stats.Hangs,
		Edges:      stats.Edges,
		Pacing:     d.pacing.Remaining(),
	}
	if err := d.reporter.Report(ctx, snapshot); err != nil {
		d.logger.Warn("failed to report status", zap.Error(err))
	}

	if d.db != nil {
		record := &database.Generation{
			Session:    d.target.SessionID,
			Generation: d.gen,
			Candidates: len(candidates),
			CorpusSize: stats.Queue,
			EdgesSeen:  stats.Edges,
			Duration:   time.Since(start).Milliseconds(),
		}
		if err := database.AddGeneration(ctx, d.db, record); err != nil {
			d.logger.Warn("failed to record generation", zap.Error(err))
		}
	}

	d.logger.Debug("generation finished",
		zap.Uint64("generation", d.gen),
		zap.Int("candidates", len(candidates)),
		zap.Int("queued", report.Queued))
	return nil
}

func (d *Driver) engineFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &handshake.ExitError{Code: ExitEngineFailure, Err: err}
}
