// Package fuzz is the execution engine of a session: it mutates queue entries,
// runs them, grades what looked interesting and keeps the coverage registry
// up to date.
package fuzz

import (
	"b3hybrid/config"
	"b3hybrid/internal/corpus"
	"b3hybrid/internal/coverage"
	"b3hybrid/internal/dict"
	"b3hybrid/internal/executor"
	"b3hybrid/internal/types"
	"b3hybrid/pkg/telemetry"
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Runner executes the target once.
type Runner interface {
	Run(ctx context.Context, data []byte) (executor.Result, error)
}

type Stats struct {
	Execs   uint64
	Queue   int
	Crashes int
	Hangs   int
	Edges   int
}

type GradeReport struct {
	Queued   int
	Crashes  int
	Hangs    int
	Unstable int
}

// Engine is driven by a single goroutine; only the registry is shared.
type Engine struct {
	runner   Runner
	registry *coverage.Registry
	crashCov *coverage.Registry // unique crash coverage, never signals novelty
	hangCov  *coverage.Registry
	store    *corpus.Store
	picker   *picker
	mutator  *mutator
	cfg      config.FuzzConfig
	logger   *zap.Logger

	picked map[int]*corpus.Entry // queue entries picked in the current generation
	execs  uint64
}

type EngineParams struct {
	fx.In

	Executor   *executor.Executor
	Registry   *coverage.Registry
	Store      *corpus.Store
	Dictionary *dict.Dictionary
	AppConfig  *config.AppConfig
	Logger     *zap.Logger
}

func NewEngine(params EngineParams) *Engine {
	return newEngine(params.Executor, params.Registry, params.Store, params.Dictionary, params.AppConfig.Fuzz, params.Logger)
}

func newEngine(runner Runner, registry *coverage.Registry, store *corpus.Store, dictionary *dict.Dictionary, cfg config.FuzzConfig, logger *zap.Logger) *Engine {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	var tokens [][]byte
	if dictionary != nil {
		tokens = dictionary.Tokens
	}
	if cfg.StabilityRuns <= 0 {
		cfg.StabilityRuns = 1
	}
	return &Engine{
		runner:   runner,
		registry: registry,
		crashCov: coverage.NewRegistry(nil, 0),
		hangCov:  coverage.NewRegistry(nil, 0),
		store:    store,
		picker:   newPicker(registry, rng),
		mutator:  &mutator{rng: rng, tokens: tokens, maxSize: cfg.MaxInputSize},
		cfg:      cfg,
		logger:   logger.Named("engine"),
		picked:   make(map[int]*corpus.Entry),
	}
}

// Import runs a bootstrap seed and queues it when it adds coverage. The first
// seed is always queued so an uninstrumented target still gets a corpus.
func (e *Engine) Import(ctx context.Context, data []byte) (bool, error) {
	result, err := e.run(ctx, data)
	if err != nil {
		return false, err
	}

	switch result.Status {
	case types.RunCrash, types.RunTimeout:
		e.logger.Warn("seed does not run cleanly", zap.Stringer("status", result.Status))
		_, err := e.saveFault(result.Status, data, 0, result.Trace)
		return false, err
	}

	fresh := e.registry.Record(result.Trace)
	if len(fresh) == 0 && !e.store.Empty() {
		return false, nil
	}
	if _, err := e.store.Save(corpus.KindQueue, data, 0, coverage.EdgesOf(result.Trace)); err != nil {
		return false, err
	}
	return true, nil
}

// RunScored is the fuzz phase of generation gen: ExecsPerGeneration mutated
// runs, returning the inputs that hit new coverage or a new fault.
func (e *Engine) RunScored(ctx context.Context, gen uint64) ([]types.Candidate, error) {
	tracer := telemetry.FromContext(ctx).Spawn("fuzz phase")
	tracer.Start()
	defer tracer.End()

	queue := e.store.Queue()
	clear(e.picked)
	if len(queue) == 0 {
		e.logger.Warn("queue is empty, nothing to fuzz", zap.Uint64("generation", gen))
		return nil, nil
	}

	cache := make(map[int][]byte)
	load := func(entry *corpus.Entry) ([]byte, error) {
		if data, ok := cache[entry.ID]; ok {
			return data, nil
		}
		data, err := e.store.Load(entry)
		if err != nil {
			return nil, err
		}
		cache[entry.ID] = data
		return data, nil
	}

	var candidates []types.Candidate
	firstFault := make(map[types.RunStatus]bool)
	for range e.cfg.ExecsPerGeneration {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := e.picker.pick(queue)
		e.store.MarkPicked(entry)
		e.picked[entry.ID] = entry

		data, err := load(entry)
		if err != nil {
			tracer.SetStatus(codes.Error, "failed to load seed")
			return nil, err
		}
		other, err := load(queue[e.mutator.rng.IntN(len(queue))])
		if err != nil {
			return nil, err
		}
		input := e.mutator.mutate(data, other)

		result, err := e.run(ctx, input)
		if err != nil {
			tracer.SetStatus(codes.Error, "execution failed")
			return nil, fmt.Errorf("generation %d: %w", gen, err)
		}

		candidate := types.Candidate{Data: input, Status: result.Status, Parent: entry.ID}
		switch result.Status {
		case types.RunOk:
			candidate.NewEdges = e.registry.Record(result.Trace)
		case types.RunCrash:
			candidate.NewEdges = e.crashCov.Record(result.Trace)
		case types.RunTimeout:
			candidate.NewEdges = e.hangCov.Record(result.Trace)
		}
		keep := len(candidate.NewEdges) > 0
		if !keep && result.Status != types.RunOk && e.faultCount(result.Status) == 0 && !firstFault[result.Status] {
			// without instrumentation a fault never has new edges; keep the first one
			keep = true
			firstFault[result.Status] = true
		}
		if !keep {
			continue
		}
		candidate.Edges = coverage.EdgesOf(result.Trace)
		candidates = append(candidates, candidate)
	}

	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Fuzzing).
		WithGeneration(gen).
		WithCandidates(len(candidates)).
		WithCorpusSize(len(queue)))
	return candidates, nil
}

// RunGraded is the grading phase: faults are stored, coverage candidates are
// re-run and queued when at least one new edge reproduces. Afterwards every
// entry picked this generation has its edges bumped.
func (e *Engine) RunGraded(ctx context.Context, gen uint64, candidates []types.Candidate) (GradeReport, error) {
	tracer := telemetry.FromContext(ctx).Spawn("grading phase")
	tracer.Start()
	defer tracer.End()

	var report GradeReport
	for _, c := range candidates {
		switch c.Status {
		case types.RunCrash:
			if _, err := e.store.Save(corpus.KindCrash, c.Data, gen, c.Edges); err != nil {
				return report, err
			}
			report.Crashes++
		case types.RunTimeout:
			result, err := e.run(ctx, c.Data)
			if err != nil {
				return report, err
			}
			if result.Status != types.RunTimeout {
				report.Unstable++
				continue
			}
			if _, err := e.store.Save(corpus.KindHang, c.Data, gen, c.Edges); err != nil {
				return report, err
			}
			report.Hangs++
		case types.RunOk:
			stable, err := e.stableEdges(ctx, c)
			if err != nil {
				return report, err
			}
			if stable == nil {
				report.Unstable++
				continue
			}
			if _, err := e.store.Save(corpus.KindQueue, c.Data, gen, stable); err != nil {
				return report, err
			}
			report.Queued++
		}
	}

	for _, entry := range e.picked {
		e.registry.Bump(entry.Edges)
	}

	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Grading).
		WithGeneration(gen).
		WithCandidates(len(candidates)).
		WithExtraAttribute("grading.queued", report.Queued).
		WithExtraAttribute("grading.unstable", report.Unstable))
	e.logger.Debug("generation graded",
		zap.Uint64("generation", gen),
		zap.Int("queued", report.Queued),
		zap.Int("crashes", report.Crashes),
		zap.Int("hangs", report.Hangs),
		zap.Int("unstable", report.Unstable))
	return report, nil
}

// RunUnscored runs an input for coverage only. New coverage marks novelty but
// the input is never queued.
func (e *Engine) RunUnscored(ctx context.Context, data []byte) error {
	result, err := e.run(ctx, data)
	if err != nil {
		return err
	}
	if result.Status == types.RunOk {
		e.registry.Record(result.Trace)
	}
	return nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		Execs:   e.execs,
		Queue:   e.store.Count(corpus.KindQueue),
		Crashes: e.store.Count(corpus.KindCrash),
		Hangs:   e.store.Count(corpus.KindHang),
		Edges:   e.registry.Edges(),
	}
}

func (e *Engine) run(ctx context.Context, data []byte) (executor.Result, error) {
	result, err := e.runner.Run(ctx, data)
	if err != nil {
		return result, err
	}
	e.execs++
	return result, nil
}

// stableEdges re-runs c and returns the edges hit by every run, or nil when
// none of its new edges reproduce.
func (e *Engine) stableEdges(ctx context.Context, c types.Candidate) ([]coverage.Edge, error) {
	hits := make(map[coverage.Edge]int, len(c.Edges))
	for _, edge := range c.Edges {
		hits[edge] = 1
	}
	runs := 1
	for range e.cfg.StabilityRuns - 1 {
		result, err := e.run(ctx, c.Data)
		if err != nil {
			return nil, err
		}
		if result.Status != types.RunOk {
			return nil, nil
		}
		runs++
		for _, edge := range coverage.EdgesOf(result.Trace) {
			if _, ok := hits[edge]; ok {
				hits[edge]++
			}
		}
	}

	reproduced := false
	for _, edge := range c.NewEdges {
		if hits[edge] == runs {
			reproduced = true
			break
		}
	}
	if !reproduced {
		return nil, nil
	}

	stable := make([]coverage.Edge, 0, len(c.Edges))
	for _, edge := range c.Edges {
		if hits[edge] == runs {
			stable = append(stable, edge)
		}
	}
	return stable, nil
}

func (e *Engine) saveFault(status types.RunStatus, data []byte, gen uint64, trace []byte) (*corpus.Entry, error) {
	kind, cov := corpus.KindCrash, e.crashCov
	if status == types.RunTimeout {
		kind, cov = corpus.KindHang, e.hangCov
	}
	if len(cov.Record(trace)) == 0 && e.store.Count(kind) > 0 {
		return nil, nil
	}
	return e.store.Save(kind, data, gen, coverage.EdgesOf(trace))
}

func (e *Engine) faultCount(status types.RunStatus) int {
	if status == types.RunTimeout {
		return e.store.Count(corpus.KindHang)
	}
	return e.store.Count(corpus.KindCrash)
}
