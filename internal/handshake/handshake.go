// Package handshake paces the fuzzing loop against the solver process.
//
// The two sides talk over one named pipe with short text messages. Before a
// generation this process writes "ready" or "new" (whether coverage grew since
// the last signal), then reads directives until one lets it proceed:
//
//	stop     exit with code 0
//	sync     ingest the sync directory, answer "synced", keep reading
//	go       run one generation
//	go:<N>   run one generation, then N more without asking again
//
// Anything else is a protocol violation and ends the process with code 1.
package handshake

import (
	"b3hybrid/internal/coverage"
	"b3hybrid/pkg/telemetry"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Ingester drains the solver's sync directory.
type Ingester interface {
	Ingest(ctx context.Context) (int, error)
}

type Protocol struct {
	pipe     Pipe
	novelty  *coverage.Novelty
	ingester Ingester
	logger   *zap.Logger
}

func NewProtocol(pipe Pipe, novelty *coverage.Novelty, ingester Ingester, logger *zap.Logger) *Protocol {
	return &Protocol{pipe, novelty, ingester, logger.Named("handshake")}
}

// Await blocks until the solver authorizes the next generation.
//
// A positive pacing count is consumed without touching the pipe. Otherwise
// one signal is written and directives are read until go or go:<N>. Every
// terminating outcome is returned as an *ExitError carrying the process exit
// code; a cancelled ctx is returned as is.
func (p *Protocol) Await(ctx context.Context, pacing *Pacing) error {
	if pacing.Take() {
		p.logger.Debug("generation pre-authorized", zap.Uint32("remaining", pacing.Remaining()))
		return nil
	}

	tracer := telemetry.FromContext(ctx).Spawn("solver handshake")
	tracer.Start()
	defer tracer.End()

	signal := SignalReady
	if p.novelty.Consume() {
		signal = SignalNew
	}
	if err := p.send(ctx, signal); err != nil {
		return err
	}
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Handshake).WithSignal(string(signal)))

	for {
		raw, err := p.pipe.Receive(ctx)
		if err != nil {
			return p.pipeFailure(ctx, err)
		}

		directive, err := ParseDirective(raw)
		if err != nil {
			p.logger.Error("protocol violation", zap.String("message", raw), zap.Error(err))
			return &ExitError{Code: ExitProtocolViolation, Err: err}
		}
		p.logger.Debug("directive received", zap.Stringer("directive", directive))

		switch directive.Kind {
		case DirectiveStop:
			p.logger.Info("solver requested stop")
			return stopRequested()
		case DirectiveSync:
			if err := p.sync(ctx); err != nil {
				return err
			}
		case DirectiveGo:
			return nil
		case DirectiveGoN:
			pacing.Grant(directive.Count)
			tracer.WithAttributes(telemetry.EmptySpanAttributes().WithDirective(directive.String()))
			return nil
		}
	}
}

func (p *Protocol) sync(ctx context.Context) error {
	tracer := telemetry.FromContext(ctx).Spawn("solver sync")
	tracer.Start()
	defer tracer.End()

	n, err := p.ingester.Ingest(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		p.logger.Error("sync ingestion failed", zap.Error(err))
		return &ExitError{Code: ExitIngestFailure, Err: err}
	}
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.Syncing).WithSyncedFiles(n))
	p.logger.Info("synced solver seeds", zap.Int("files", n))

	return p.send(ctx, SignalSynced)
}

func (p *Protocol) send(ctx context.Context, signal Signal) error {
	if err := p.pipe.Send(ctx, string(signal)); err != nil {
		return p.pipeFailure(ctx, fmt.Errorf("sending %s: %w", signal, err))
	}
	return nil
}

func (p *Protocol) pipeFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.logger.Error("solver pipe failure", zap.Error(err))
	return &ExitError{Code: ExitPipeFailure, Err: err}
}
