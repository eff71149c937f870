package logger

import (
	"b3hybrid/config"
	"b3hybrid/pkg/telemetry"
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

func NewLogger(p LoggerParams) *zap.Logger {
	loggerCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})

	cfg := buildConfig(p.AppConfig.LogLevel)
	opts := []zap.Option{zap.Fields(zap.String("service", p.AppConfig.ServiceName))}

	if p.Telemetry != nil && p.Telemetry.GetLogger() != nil {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &telemetryCore{
				Core:  core,
				otel:  p.Telemetry.GetLogger(),
				ctx:   loggerCtx,
				attrs: []attribute.KeyValue{attribute.String("hybrid.action.name", "fuzzing_log")},
			}
		}))
	}

	lg, err := cfg.Build(opts...)
	if err != nil {
		// log failed to build, return a default one
		return zap.NewExample()
	}
	return lg
}

// buildConfig picks the development encoder for chatty levels and the JSON
// production encoder once only warnings and above are wanted.
func buildConfig(levelName string) zap.Config {
	level := zapcore.InfoLevel
	switch strings.ToLower(levelName) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg
}

// telemetryCore decorates a zapcore.Core so every entry is also emitted as an
// OpenTelemetry log record, with zap fields converted to attributes.
type telemetryCore struct {
	zapcore.Core
	otel  log.Logger
	ctx   context.Context
	attrs []attribute.KeyValue
}

func (t *telemetryCore) With(fields []zapcore.Field) zapcore.Core {
	return &telemetryCore{
		Core:  t.Core.With(fields),
		otel:  t.otel,
		ctx:   t.ctx,
		attrs: append(append([]attribute.KeyValue{}, t.attrs...), fieldAttributes(fields)...),
	}
}

func (t *telemetryCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(ent.Level) {
		return checked.AddCore(ent, t)
	}
	return checked
}

func (t *telemetryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := t.Core.Write(ent, fields); err != nil {
		return err
	}

	rec := log.Record{}
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverityText(ent.Level.String())
	for _, attr := range t.attrs {
		rec.AddAttributes(log.KeyValueFromAttribute(attr))
	}
	for _, attr := range fieldAttributes(fields) {
		rec.AddAttributes(log.KeyValueFromAttribute(attr))
	}

	t.otel.Emit(t.ctx, rec)
	return nil
}

func fieldAttributes(fields []zapcore.Field) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for _, f := range fields {
		switch f.Type {
		case zapcore.BoolType:
			attrs = append(attrs, attribute.Bool(f.Key, f.Integer != 0))
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
			zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
			attrs = append(attrs, attribute.Int64(f.Key, f.Integer))
		case zapcore.Float64Type:
			if v, ok := f.Interface.(float64); ok {
				attrs = append(attrs, attribute.Float64(f.Key, v))
			}
		case zapcore.StringType:
			attrs = append(attrs, attribute.String(f.Key, f.String))
		case zapcore.DurationType:
			attrs = append(attrs, attribute.Int64(f.Key+"_ns", f.Integer))
		case zapcore.ErrorType:
			if errVal, ok := f.Interface.(error); ok {
				attrs = append(attrs, attribute.String(f.Key, errVal.Error()))
			}
		default:
			attrs = append(attrs, attribute.String(f.Key, fmt.Sprint(f.Interface)))
		}
	}
	return attrs
}
