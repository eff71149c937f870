package config

import (
	"b3hybrid/internal/session"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPipePath = "/dev/shm/bf-symsan"
	DefaultSyncDir  = "/dev/shm/bf-sync-seeds"
)

type AppConfig struct {
	DatabaseURL        string `yaml:"database_url"`
	RabbitMQURL        string `yaml:"rabbitmq_url"`
	RedisSentinelHosts string `yaml:"redis_sentinel_hosts"`
	RedisMasterName    string `yaml:"redis_master"`
	RedisUrl           string `yaml:"redis_url"`
	OtelEndpoint       string `yaml:"otel_endpoint"`
	LogLevel           string `yaml:"log_level"`
	ServiceName        string `yaml:"service_name"`

	Session SessionConfig `yaml:"session"`
	Solver  SolverConfig  `yaml:"solver"`
	Target  TargetConfig  `yaml:"target"`
	Fuzz    FuzzConfig    `yaml:"fuzz"`
}

type SessionConfig struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
	SyncAFL   bool   `yaml:"sync_afl"` // nest the output under <output_dir>/angora
}

type SolverConfig struct {
	PipePath string `yaml:"pipe"`
	SyncDir  string `yaml:"sync_dir"`
}

type TargetConfig struct {
	Program    string        `yaml:"program"`
	Args       []string      `yaml:"args"` // "@@" is replaced by the input file, stdin otherwise
	MemLimitMB int           `yaml:"mem_limit_mb"`
	TimeLimit  time.Duration `yaml:"time_limit"`
	DictPaths  []string      `yaml:"dicts"`
}

type FuzzConfig struct {
	ExecsPerGeneration int    `yaml:"execs_per_generation"`
	MaxInputSize       int    `yaml:"max_input_size"`
	FlipLimit          int    `yaml:"flip_limit"`
	StabilityRuns      int    `yaml:"stability_runs"`
}

// Flags carries command line overrides. Zero values leave the loaded config untouched.
type Flags struct {
	ConfigFile string
	InputDir   string
	OutputDir  string
	SyncAFL    bool
	PipePath   string
	SyncDir    string
	MemLimitMB int
	TimeLimit  time.Duration
	DictPaths  []string
	Target     []string // program followed by its arguments
}

func (c *AppConfig) Resume() bool {
	return c.Session.InputDir == session.ResumeMarker
}

func (c *AppConfig) TelemetryEnabled() bool {
	return c.OtelEndpoint != ""
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.Session.InputDir == "" {
		errs = append(errs, errors.New("input directory is required (use \"-\" to resume)"))
	}
	if c.Session.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Target.Program == "" {
		errs = append(errs, errors.New("target program is required"))
	}
	if c.Solver.PipePath == "" || c.Solver.SyncDir == "" {
		errs = append(errs, errors.New("solver pipe and sync dir must not be empty"))
	}
	if c.Fuzz.ExecsPerGeneration <= 0 {
		errs = append(errs, fmt.Errorf("execs per generation must be positive, got %d", c.Fuzz.ExecsPerGeneration))
	}
	if c.Target.MemLimitMB < 0 {
		errs = append(errs, fmt.Errorf("memory limit must not be negative, got %d", c.Target.MemLimitMB))
	}
	if c.Target.TimeLimit < 0 {
		errs = append(errs, fmt.Errorf("time limit must not be negative, got %s", c.Target.TimeLimit))
	}
	if c.Fuzz.FlipLimit < 0 {
		errs = append(errs, fmt.Errorf("flip limit must not be negative, got %d", c.Fuzz.FlipLimit))
	}
	return errors.Join(errs...)
}

func LoadConfig(flags *Flags) (*AppConfig, error) {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := &AppConfig{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RedisSentinelHosts: os.Getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:    os.Getenv("REDIS_MASTER"),
		RedisUrl:           os.Getenv("OVERRIDE_REDIS_URL"),
		OtelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		ServiceName:        os.Getenv("SERVICE_NAME"),
		Session: SessionConfig{
			InputDir:  os.Getenv("HYBRID_INPUT_DIR"),
			OutputDir: os.Getenv("HYBRID_OUTPUT_DIR"),
			SyncAFL:   parseBool(os.Getenv("HYBRID_SYNC_AFL"), false),
		},
		Solver: SolverConfig{
			PipePath: parseString(os.Getenv("SOLVER_PIPE"), DefaultPipePath),
			SyncDir:  parseString(os.Getenv("SOLVER_SYNC_DIR"), DefaultSyncDir),
		},
		Target: TargetConfig{
			MemLimitMB: parseInt(os.Getenv("TARGET_MEM_LIMIT_MB"), 200),
			TimeLimit:  parseDuration(os.Getenv("TARGET_TIME_LIMIT"), time.Second),
			DictPaths:  parseList(os.Getenv("HYBRID_DICTS")),
		},
		Fuzz: FuzzConfig{
			ExecsPerGeneration: parseInt(os.Getenv("FUZZ_EXECS_PER_GENERATION"), 1000),
			MaxInputSize:       parseInt(os.Getenv("FUZZ_MAX_INPUT_SIZE"), 1<<20),
			FlipLimit:          parseInt(os.Getenv("FUZZ_FLIP_LIMIT"), 16),
			StabilityRuns:      parseInt(os.Getenv("FUZZ_STABILITY_RUNS"), 2),
		},
	}

	configFile := os.Getenv("HYBRID_CONFIG")
	if flags != nil && flags.ConfigFile != "" {
		configFile = flags.ConfigFile
	}
	if configFile != "" {
		if err := config.mergeFile(configFile); err != nil {
			return nil, err
		}
		logger.Info("loaded config file", zap.String("path", configFile))
	}

	config.applyFlags(flags)

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "b3hybrid" // Default service name
	}
	if config.Fuzz.StabilityRuns <= 0 {
		config.Fuzz.StabilityRuns = 1
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// mergeFile overlays the keys present in a YAML file on top of the current config.
func (c *AppConfig) mergeFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyFlags(flags *Flags) {
	if flags == nil {
		return
	}
	if flags.InputDir != "" {
		c.Session.InputDir = flags.InputDir
	}
	if flags.OutputDir != "" {
		c.Session.OutputDir = flags.OutputDir
	}
	if flags.SyncAFL {
		c.Session.SyncAFL = true
	}
	if flags.PipePath != "" {
		c.Solver.PipePath = flags.PipePath
	}
	if flags.SyncDir != "" {
		c.Solver.SyncDir = flags.SyncDir
	}
	if flags.MemLimitMB != 0 {
		c.Target.MemLimitMB = flags.MemLimitMB
	}
	if flags.TimeLimit != 0 {
		c.Target.TimeLimit = flags.TimeLimit
	}
	if len(flags.DictPaths) > 0 {
		c.Target.DictPaths = flags.DictPaths
	}
	if len(flags.Target) > 0 {
		c.Target.Program = flags.Target[0]
		c.Target.Args = flags.Target[1:]
	}
}

func parseString(val string, defaultVal string) string {
	if val == "" {
		return defaultVal
	}
	return val
}

func parseList(val string) []string {
	if val == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
