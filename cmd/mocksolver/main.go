package main

// mock the solver side of the handshake

import (
	"b3hybrid/internal/handshake"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type mockSolver struct {
	pipe    *handshake.NamedPipe
	syncDir string
	drops   int
	logger  *zap.Logger
}

// play answers one fuzzer signal per go directive. sync directives drop fresh
// inputs into the sync directory first and expect "synced" back.
func (m *mockSolver) play(ctx context.Context, script []string) error {
	awaiting := true
	for _, directive := range script {
		if awaiting {
			msg, err := m.pipe.Receive(ctx)
			if err != nil {
				return fmt.Errorf("failed to read signal: %w", err)
			}
			m.logger.Info("fuzzer signalled", zap.String("signal", msg))
			awaiting = false
		}

		if directive == "sync" {
			if err := m.drop(); err != nil {
				return err
			}
		}
		if err := m.pipe.Send(ctx, directive); err != nil {
			return fmt.Errorf("failed to send %q: %w", directive, err)
		}
		m.logger.Info("sent directive", zap.String("directive", directive))

		switch {
		case directive == "sync":
			ack, err := m.pipe.Receive(ctx)
			if err != nil {
				return fmt.Errorf("failed to read sync ack: %w", err)
			}
			if ack != string(handshake.SignalSynced) {
				return fmt.Errorf("expected %q, got %q", handshake.SignalSynced, ack)
			}
		case directive == "stop":
			return nil
		case strings.HasPrefix(directive, "go"):
			awaiting = true
		}
	}
	return nil
}

func (m *mockSolver) drop() error {
	if err := os.MkdirAll(m.syncDir, 0755); err != nil {
		return err
	}
	for range m.drops {
		data := make([]byte, 1+rand.IntN(64))
		for i := range data {
			data[i] = byte(rand.UintN(256))
		}
		name := filepath.Join(m.syncDir, "id:"+uuid.New().String())
		if err := os.WriteFile(name, data, 0644); err != nil {
			return fmt.Errorf("failed to drop input: %w", err)
		}
	}
	return nil
}

func main() {
	var (
		pipePath string
		syncDir  string
		script   string
		drops    int
	)

	cmd := &cobra.Command{
		Use:   "mocksolver",
		Short: "Play a scripted solver against a running b3hybrid",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := handshake.CreateFIFO(pipePath); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := &mockSolver{
				pipe:    handshake.NewNamedPipe(pipePath),
				syncDir: syncDir,
				drops:   drops,
				logger:  logger,
			}
			return m.play(ctx, strings.Split(script, ","))
		},
	}

	cmd.Flags().StringVar(&pipePath, "pipe", "/dev/shm/bf-symsan", "named pipe shared with the fuzzer")
	cmd.Flags().StringVar(&syncDir, "sync-dir", "/dev/shm/bf-sync-seeds", "directory the fuzzer ingests on sync")
	cmd.Flags().StringVar(&script, "script", "go:3,sync,go,stop", "comma separated directives")
	cmd.Flags().IntVar(&drops, "drops", 4, "inputs dropped into the sync directory per sync")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
