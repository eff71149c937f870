package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"b3hybrid/internal/coverage"
	"b3hybrid/internal/fuzz"
	"b3hybrid/internal/handshake"
	"b3hybrid/internal/session"
	"b3hybrid/internal/status"
	"b3hybrid/internal/types"
	"b3hybrid/pkg/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type scriptedPipe struct {
	directives []string
	sent       []string
	received   int
}

func (p *scriptedPipe) Send(ctx context.Context, msg string) error {
	p.sent = append(p.sent, msg)
	return nil
}

func (p *scriptedPipe) Receive(ctx context.Context) (string, error) {
	if len(p.directives) == 0 {
		return "", errors.New("solver script exhausted")
	}
	p.received++
	d := p.directives[0]
	p.directives = p.directives[1:]
	return d, nil
}

type countingIngester struct{ calls int }

func (i *countingIngester) Ingest(ctx context.Context) (int, error) {
	i.calls++
	return 1, nil
}

type fakeEngine struct {
	novelty   *coverage.Novelty
	imported  int
	scored    []uint64
	graded    []uint64
	failOnGen int // RunScored fails on this generation, -1 for never
}

func (e *fakeEngine) Import(ctx context.Context, data []byte) (bool, error) {
	e.imported++
	return true, nil
}

func (e *fakeEngine) RunScored(ctx context.Context, gen uint64) ([]types.Candidate, error) {
	if int(gen) == e.failOnGen {
		return nil, errors.New("fork server died")
	}
	e.scored = append(e.scored, gen)
	if gen == 0 {
		e.novelty.Mark()
	}
	return []types.Candidate{{Data: []byte("x")}}, nil
}

func (e *fakeEngine) RunGraded(ctx context.Context, gen uint64, candidates []types.Candidate) (fuzz.GradeReport, error) {
	e.graded = append(e.graded, gen)
	return fuzz.GradeReport{Queued: len(candidates)}, nil
}

func (e *fakeEngine) Stats() fuzz.Stats {
	return fuzz.Stats{Queue: e.imported}
}

type fakeCollector struct{ seeds [][]byte }

func (c *fakeCollector) Collect(ctx context.Context, dir string, visit func(string, []byte) error) (int, error) {
	for _, seed := range c.seeds {
		if err := visit(dir+"/seed", seed); err != nil {
			return 0, err
		}
	}
	return len(c.seeds), nil
}

type harness struct {
	driver   *Driver
	pipe     *scriptedPipe
	ingester *countingIngester
	engine   *fakeEngine
}

func newHarness(t *testing.T, logger *zap.Logger, directives ...string) *harness {
	novelty := &coverage.Novelty{}
	h := &harness{
		pipe:     &scriptedPipe{directives: directives},
		ingester: &countingIngester{},
		engine:   &fakeEngine{novelty: novelty, failOnGen: -1},
	}
	target := types.NewTarget("/bin/target")
	h.driver = &Driver{
		awaiter:       handshake.NewProtocol(h.pipe, novelty, h.ingester, logger),
		engine:        h.engine,
		collector:     &fakeCollector{seeds: [][]byte{[]byte("a"), []byte("b")}},
		reporter:      status.NewReporter(status.ReporterParams{Target: target, Logger: logger}),
		paths:         session.Paths{SeedsDir: "/seeds", OutputDir: "/out"},
		target:        target,
		tracerFactory: telemetry.NewTracerFactory(telemetry.TracerFactoryParams{}),
		logger:        logger,
		done:          make(chan struct{}),
	}
	return h
}

func TestGoNRunsPreAuthorizedGenerations(t *testing.T) {
	h := newHarness(t, zaptest.NewLogger(t), "go:3", "stop")

	err := h.driver.Run(context.Background())
	require.True(t, handshake.IsStop(err))
	assert.Equal(t, 0, ExitCode(err))

	assert.Equal(t, []uint64{0, 1, 2, 3}, h.engine.scored)
	assert.Equal(t, h.engine.scored, h.engine.graded)
	assert.Equal(t, []string{"ready", "new"}, h.pipe.sent, "one round trip before and one after the batch")
	assert.Equal(t, 2, h.engine.imported)
}

func TestSyncThenGo(t *testing.T) {
	h := newHarness(t, zaptest.NewLogger(t), "sync", "go", "stop")

	err := h.driver.Run(context.Background())
	require.True(t, handshake.IsStop(err))

	assert.Equal(t, 1, h.ingester.calls)
	assert.Equal(t, []string{"ready", "synced", "new"}, h.pipe.sent)
	assert.Equal(t, []uint64{0}, h.engine.scored)
}

func TestProtocolViolationEndsSession(t *testing.T) {
	h := newHarness(t, zaptest.NewLogger(t), "bogus", "go")

	err := h.driver.Run(context.Background())
	assert.Equal(t, handshake.ExitProtocolViolation, ExitCode(err))
	assert.Empty(t, h.engine.scored)
	assert.Equal(t, []string{"ready"}, h.pipe.sent)
	assert.Equal(t, 1, h.pipe.received)
}

func TestStopBeforeFirstGeneration(t *testing.T) {
	h := newHarness(t, zaptest.NewLogger(t), "stop")

	err := h.driver.Run(context.Background())
	assert.Equal(t, handshake.ExitStopped, ExitCode(err))
	assert.Empty(t, h.engine.scored)
}

func TestEngineFailureExitCode(t *testing.T) {
	h := newHarness(t, zaptest.NewLogger(t), "go:5")
	h.engine.failOnGen = 2

	err := h.driver.Run(context.Background())
	assert.Equal(t, ExitEngineFailure, ExitCode(err))
	assert.Equal(t, []uint64{0, 1}, h.engine.scored)
	assert.Equal(t, uint64(2), h.driver.gen)
}

func TestEmptyCorpusIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := newHarness(t, zap.New(core), "stop")
	h.driver.collector = &fakeCollector{}

	require.True(t, handshake.IsStop(h.driver.Run(context.Background())))
	assert.Equal(t, 1, logs.FilterMessageSnippet("corpus is empty").Len())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(&handshake.ExitError{Code: handshake.ExitPipeFailure}))
	assert.Equal(t, ExitEngineFailure, ExitCode(errors.New("anything else")))
}

type recordingShutdowner struct{ calls chan int }

func (s *recordingShutdowner) Shutdown(opts ...fx.ShutdownOption) error {
	s.calls <- len(opts)
	return nil
}

func TestStartShutsDownAppOnStop(t *testing.T) {
	h := newHarness(t, zaptest.NewLogger(t), "stop")
	shutdowner := &recordingShutdowner{calls: make(chan int, 1)}

	go h.driver.start(context.Background(), shutdowner)

	select {
	case n := <-shutdowner.calls:
		assert.Equal(t, 1, n, "exit code option is passed")
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not shut the app down")
	}
	<-h.driver.done
}

func TestStartIgnoresCancellation(t *testing.T) {
	h := newHarness(t, zaptest.NewLogger(t))
	h.driver.awaiter = awaiterFunc(func(ctx context.Context, _ *handshake.Pacing) error {
		<-ctx.Done()
		return ctx.Err()
	})
	shutdowner := &recordingShutdowner{calls: make(chan int, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	go h.driver.start(ctx, shutdowner)
	cancel()
	<-h.driver.done
	assert.Empty(t, shutdowner.calls)
}

type awaiterFunc func(ctx context.Context, pacing *handshake.Pacing) error

func (f awaiterFunc) Await(ctx context.Context, pacing *handshake.Pacing) error { return f(ctx, pacing) }
