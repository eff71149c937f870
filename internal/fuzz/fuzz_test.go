package fuzz

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"b3hybrid/config"
	"b3hybrid/internal/corpus"
	"b3hybrid/internal/coverage"
	"b3hybrid/internal/dict"
	"b3hybrid/internal/executor"
	"b3hybrid/internal/session"
	"b3hybrid/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// byteRunner hits one edge per distinct byte value. '!' crashes, '~' hangs.
type byteRunner struct {
	calls   int
	flaky   bool // every other call drops the coverage of bytes >= 0x80
	failErr error
}

func (r *byteRunner) Run(ctx context.Context, data []byte) (executor.Result, error) {
	if r.failErr != nil {
		return executor.Result{}, r.failErr
	}
	r.calls++
	trace := make([]byte, coverage.MapSize)
	for _, b := range data {
		if r.flaky && b >= 0x80 && r.calls%2 == 0 {
			continue
		}
		trace[b] = 1
	}
	status := types.RunOk
	switch {
	case bytes.ContainsRune(data, '!'):
		status = types.RunCrash
	case bytes.ContainsRune(data, '~'):
		status = types.RunTimeout
	}
	return executor.Result{Status: status, Trace: trace}, nil
}

type fixture struct {
	engine   *Engine
	runner   *byteRunner
	store    *corpus.Store
	novelty  *coverage.Novelty
	registry *coverage.Registry
}

func newFixture(t *testing.T, cfg config.FuzzConfig) *fixture {
	t.Helper()
	paths, err := session.Initialize(t.TempDir(), filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	f := &fixture{runner: &byteRunner{}, novelty: &coverage.Novelty{}}
	f.registry = coverage.NewRegistry(f.novelty, 4)
	f.store = corpus.NewStore(paths, types.NewTarget("/bin/target"), zaptest.NewLogger(t))
	dictionary := &dict.Dictionary{Tokens: [][]byte{[]byte("MAGIC")}}
	f.engine = newEngine(f.runner, f.registry, f.store, dictionary, cfg, zaptest.NewLogger(t))
	return f
}

func defaultFuzzConfig() config.FuzzConfig {
	return config.FuzzConfig{ExecsPerGeneration: 200, MaxInputSize: 256, FlipLimit: 4, StabilityRuns: 2}
}

func TestImportQueuesOnlyNewCoverage(t *testing.T) {
	f := newFixture(t, defaultFuzzConfig())
	ctx := context.Background()

	queued, err := f.engine.Import(ctx, []byte("ab"))
	require.NoError(t, err)
	assert.True(t, queued)
	assert.True(t, f.novelty.Consume())

	queued, err = f.engine.Import(ctx, []byte("ba"))
	require.NoError(t, err)
	assert.False(t, queued)
	assert.False(t, f.novelty.Pending())

	queued, err = f.engine.Import(ctx, []byte("abc"))
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = f.engine.Import(ctx, []byte("crash!"))
	require.NoError(t, err)
	assert.False(t, queued)

	stats := f.engine.Stats()
	assert.Equal(t, 2, stats.Queue)
	assert.Equal(t, 1, stats.Crashes)
	assert.Equal(t, uint64(4), stats.Execs)
	assert.Equal(t, 3, stats.Edges)
}

func TestImportQueuesFirstSeedWithoutCoverage(t *testing.T) {
	f := newFixture(t, defaultFuzzConfig())
	f.engine.runner = runnerFunc(func(ctx context.Context, data []byte) (executor.Result, error) {
		return executor.Result{Status: types.RunOk, Trace: make([]byte, coverage.MapSize)}, nil
	})

	queued, err := f.engine.Import(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.True(t, queued)
	queued, err = f.engine.Import(context.Background(), []byte("y"))
	require.NoError(t, err)
	assert.False(t, queued)
}

type runnerFunc func(ctx context.Context, data []byte) (executor.Result, error)

func (f runnerFunc) Run(ctx context.Context, data []byte) (executor.Result, error) { return f(ctx, data) }

func TestGenerationGrowsQueue(t *testing.T) {
	f := newFixture(t, defaultFuzzConfig())
	ctx := context.Background()

	_, err := f.engine.Import(ctx, []byte("seed"))
	require.NoError(t, err)
	f.novelty.Consume()
	before := f.engine.Stats()

	candidates, err := f.engine.RunScored(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.True(t, f.novelty.Pending(), "new edges during the fuzz phase mark novelty")
	for _, c := range candidates {
		assert.NotEmpty(t, c.Data)
		assert.LessOrEqual(t, len(c.Data), 256)
		assert.Equal(t, 0, c.Parent)
	}

	report, err := f.engine.RunGraded(ctx, 1, candidates)
	require.NoError(t, err)
	assert.Equal(t, len(candidates), report.Queued+report.Crashes+report.Hangs+report.Unstable)
	assert.Positive(t, report.Queued)

	after := f.engine.Stats()
	assert.Greater(t, after.Queue, before.Queue)
	assert.Greater(t, after.Edges, before.Edges)
	assert.Greater(t, after.Execs, before.Execs+199)
	assert.Equal(t, uint32(1), f.registry.GenCount(coverage.Edge('s')), "picked seed edges are bumped once per generation")
}

func TestRunScoredEmptyQueue(t *testing.T) {
	f := newFixture(t, defaultFuzzConfig())

	candidates, err := f.engine.RunScored(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, f.runner.calls)
}

func TestRunScoredPropagatesRunnerFailure(t *testing.T) {
	f := newFixture(t, defaultFuzzConfig())
	_, err := f.engine.Import(context.Background(), []byte("seed"))
	require.NoError(t, err)

	f.runner.failErr = errors.New("fork failed")
	_, err = f.engine.RunScored(context.Background(), 1)
	require.ErrorIs(t, err, f.runner.failErr)
}

func TestRunScoredHonoursCancellation(t *testing.T) {
	f := newFixture(t, defaultFuzzConfig())
	_, err := f.engine.Import(context.Background(), []byte("seed"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.engine.RunScored(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunGradedStoresFaultsAndDropsUnstable(t *testing.T) {
	f := newFixture(t, defaultFuzzConfig())
	f.runner.flaky = true
	ctx := context.Background()

	// the flaky runner drops high bytes on even calls; pretend call 1 was the fuzz-phase run
	f.runner.calls = 1
	unstable := types.Candidate{Data: []byte{0x90}, Status: types.RunOk, Edges: []coverage.Edge{0x90}, NewEdges: []coverage.Edge{0x90}}
	stable := types.Candidate{Data: []byte("q"), Status: types.RunOk, Edges: []coverage.Edge{'q'}, NewEdges: []coverage.Edge{'q'}}
	crash := types.Candidate{Data: []byte("!"), Status: types.RunCrash, Edges: []coverage.Edge{'!'}}
	hang := types.Candidate{Data: []byte("~"), Status: types.RunTimeout, Edges: []coverage.Edge{'~'}}

	report, err := f.engine.RunGraded(ctx, 7, []types.Candidate{unstable, stable, crash, hang})
	require.NoError(t, err)
	assert.Equal(t, GradeReport{Queued: 1, Crashes: 1, Hangs: 1, Unstable: 1}, report)

	queue := f.store.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, uint64(7), queue[0].Generation)
	assert.Equal(t, []coverage.Edge{'q'}, queue[0].Edges)
}

func TestRunUnscoredRecordsWithoutQueueing(t *testing.T) {
	f := newFixture(t, defaultFuzzConfig())

	require.NoError(t, f.engine.RunUnscored(context.Background(), []byte("solver")))
	assert.True(t, f.novelty.Consume())
	assert.True(t, f.store.Empty())
	assert.Equal(t, 6, f.registry.Edges())

	require.NoError(t, f.engine.RunUnscored(context.Background(), []byte("solver")))
	assert.False(t, f.novelty.Pending())
}

func TestBalance(t *testing.T) {
	assert.Equal(t, []float64{0.25, 0.75}, balance([]float64{1, 3}))
	assert.Equal(t, []float64{0.5, 0.5}, balance([]float64{0, 0}))
}

func TestPickerAvoidsExhaustedEntries(t *testing.T) {
	registry := coverage.NewRegistry(nil, 1)
	registry.Bump([]coverage.Edge{1})
	p := newPicker(registry, rand.New(rand.NewPCG(1, 2)))

	entries := []*corpus.Entry{
		{ID: 0, Size: 10, Edges: []coverage.Edge{1}, Picks: 50},
		{ID: 1, Size: 10, Edges: []coverage.Edge{2}},
	}
	picks := map[int]int{}
	for range 1000 {
		picks[p.pick(entries).ID]++
	}
	assert.Greater(t, picks[1], picks[0]*3)
}

func TestMutatorStaysInBounds(t *testing.T) {
	m := &mutator{rng: rand.New(rand.NewPCG(3, 4)), tokens: [][]byte{[]byte("TOKEN")}, maxSize: 16}
	seed := []byte("0123456789")
	for range 2000 {
		out := m.mutate(seed, []byte("abcdefghijklmnop"))
		require.NotEmpty(t, out)
		require.LessOrEqual(t, len(out), 16)
	}
	assert.Equal(t, "0123456789", string(seed), "the seed is never modified in place")
	assert.NotEmpty(t, m.mutate(nil, nil))
}
