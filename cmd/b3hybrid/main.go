package main

import (
	"b3hybrid/config"
	"b3hybrid/internal/corpus"
	"b3hybrid/internal/crash"
	"b3hybrid/internal/dict"
	"b3hybrid/internal/driver"
	"b3hybrid/internal/executor"
	"b3hybrid/internal/fuzz"
	"b3hybrid/internal/seeds"
	"b3hybrid/internal/status"
	"b3hybrid/pkg/database"
	"b3hybrid/pkg/logger"
	"b3hybrid/pkg/mq"
	"b3hybrid/pkg/telemetry"
	"b3hybrid/pkg/watchdog"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func setUpMmapRNDBits(logger *zap.Logger) {
	// Set the mmap_rnd_bits to 28 to avoid ASLR issues on ASAN
	if err := exec.Command("sysctl", "-w", "vm.mmap_rnd_bits=28").Run(); err != nil {
		logger.Warn("Failed to set mmap_rnd_bits", zap.Error(err))
	} else {
		logger.Info("Successfully set mmap_rnd_bits to 28")
	}
}

func newApp(flags *config.Flags) *fx.App {
	return fx.New(
		fx.Supply(flags),
		fx.Provide(
			config.LoadConfig,           // inject config
			database.NewDBConnection,    // inject db connection
			database.NewRedisClient,     // inject redis client
			logger.NewLogger,            // inject logger
			mq.NewRabbitMQ,              // inject rabbitmq service
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			watchdog.NewWatchDogFactory, // inject watchdog factory
			executor.NewExecutor,        // inject target executor
			fuzz.NewEngine,              // inject fuzz engine
			dict.NewDictGrabber,         // inject dict grabber
			dict.NewDictionary,          // inject merged dictionary
			status.NewReporter,          // inject status reporter
		),
		corpus.CorpusModule, // inject corpus store and seed grabbers
		fx.Invoke(
			setUpMmapRNDBits,
			crash.NewCrashManager,
			seeds.NewSeedManager,
		),
		driver.Module, // session, handshake and the generation loop
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
}

func newRootCmd() *cobra.Command {
	flags := &config.Flags{}

	cmd := &cobra.Command{
		Use:   "b3hybrid -i <seeds|-> -o <output> [flags] -- <program> [args...]",
		Short: "Coverage-guided fuzzer paced by a concolic solver over a named pipe",
		Long: `b3hybrid fuzzes a target one generation at a time. Before each generation it
writes "ready" or "new" to the solver pipe and waits for stop, sync, go or go:N.
Use "@@" in the target arguments to pass the input as a file instead of stdin.
Pass "-" as the input directory to resume the session found in the output directory.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.Target = args
			// Run exits the process with the code passed to the shutdowner
			newApp(flags).Run()
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.InputDir, "input", "i", "", "seed directory, or \"-\" to resume")
	cmd.Flags().StringVarP(&flags.OutputDir, "output", "o", "", "output directory")
	cmd.Flags().IntVarP(&flags.MemLimitMB, "mem-limit", "M", 0, "target memory limit in MiB")
	cmd.Flags().DurationVarP(&flags.TimeLimit, "time-limit", "T", 0, "target time limit per execution")
	cmd.Flags().BoolVarP(&flags.SyncAFL, "sync-afl", "S", false, "place the output under <output>/angora next to AFL instances")
	cmd.Flags().StringVar(&flags.PipePath, "pipe", "", "solver named pipe (default "+config.DefaultPipePath+")")
	cmd.Flags().StringVar(&flags.SyncDir, "sync-dir", "", "solver sync directory (default "+config.DefaultSyncDir+")")
	cmd.Flags().StringSliceVarP(&flags.DictPaths, "dict", "x", nil, "AFL dictionary files")
	cmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", "", "YAML config file")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
