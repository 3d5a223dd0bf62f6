package utils

import (
	"math"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig controls InitLogger's output. The zero value is a sane
// default: info level, JSON format, stderr output.
type LogConfig struct {
	Level       string
	Format      string // "json" or "text"
	Output      string // file path, or "" / "stderr" / "stdout"
	Development bool
}

// Logger wraps *zap.Logger with a cached SugaredLogger and the engine's
// domain-specific With* helpers.
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func buildEncoder(cfg LogConfig) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	if strings.ToLower(cfg.Format) == "text" {
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

func buildSink(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stderr":
		return zapcore.AddSync(os.Stderr)
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zapcore.AddSync(os.Stderr)
		}
		return zapcore.AddSync(f)
	}
}

// InitLogger builds a standalone Logger from cfg. It never returns nil and
// never panics: an unwritable Output falls back to stderr.
func InitLogger(cfg LogConfig) *Logger {
	core := zapcore.NewCore(buildEncoder(cfg), buildSink(cfg.Output), parseLevel(cfg.Level))

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

var (
	globalLogger *Logger
	globalMu     sync.Mutex
)

// GetGlobalLogger returns the process-wide Logger, lazily creating a
// default one on first use.
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		zl := zap.New(zapcore.NewCore(buildEncoder(LogConfig{}), buildSink(""), parseLevel("")))
		globalLogger = &Logger{Logger: zl, sugar: zl.Sugar()}
	}
	return globalLogger
}

// InitGlobalLogger builds a Logger from cfg and installs it as the
// process-wide logger.
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger installs logger as the process-wide logger.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// L is shorthand for GetGlobalLogger.
func L() *Logger {
	return GetGlobalLogger()
}

// With returns a child Logger with fields attached to every subsequent
// entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent tags every entry with the originating subsystem name,
// e.g. "evaluator" or "executor".
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithExchange tags every entry with the exchange name.
func (l *Logger) WithExchange(name string) *Logger {
	return l.With(Exchange(name))
}

// WithSymbol tags every entry with the pair symbol being handled.
func (l *Logger) WithSymbol(name string) *Logger {
	return l.With(Symbol(name))
}

// WithPairID tags every entry with a numeric pair identifier.
func (l *Logger) WithPairID(id int) *Logger {
	return l.With(PairID(id))
}

// Sugar returns the cached SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Global logging functions, delegating to the global Logger
// ============================================================

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Logger.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Logger.Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { GetGlobalLogger().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(format, args...) }

// ============================================================
// Domain field constructors
// ============================================================

func Exchange(name string) zap.Field    { return zap.String("exchange", name) }
func Symbol(name string) zap.Field      { return zap.String("symbol", name) }
func PairID(id int) zap.Field           { return zap.Int("pair_id", id) }
func OrderID(id string) zap.Field       { return zap.String("order_id", id) }
func Price(v float64) zap.Field         { return zap.Float64("price", v) }
func Volume(v float64) zap.Field        { return zap.Float64("volume", v) }
func Spread(v float64) zap.Field        { return zap.Float64("spread", v) }
func PNL(v float64) zap.Field           { return zap.Float64("pnl", v) }
func Side(v string) zap.Field           { return zap.String("side", v) }
func State(v string) zap.Field          { return zap.String("state", v) }
func Latency(ms float64) zap.Field      { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field     { return zap.String("request_id", id) }
func UserID(id int) zap.Field           { return zap.Int("user_id", id) }
func Component(name string) zap.Field   { return zap.String("component", name) }

// ============================================================
// Re-exported zap field constructors, so callers need not import zap
// directly for the common cases.
// ============================================================

func String(key, value string) zap.Field        { return zap.String(key, value) }
func Int(key string, value int) zap.Field        { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field    { return zap.Int64(key, value) }
func Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func Bool(key string, value bool) zap.Field      { return zap.Bool(key, value) }
func Err(err error) zap.Field                    { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// fieldsToInterface flattens zap.Fields into alternating key/value pairs,
// in field order, for bridging into the SugaredLogger's variadic
// Infow-style calls.
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, fieldValue(f))
	}
	return out
}

// fieldValue extracts a zap.Field's payload as a plain interface{},
// covering the field types this package's constructors produce.
func fieldValue(f zap.Field) interface{} {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
		return f.Integer
	case zapcore.Float64Type:
		return math.Float64frombits(uint64(f.Integer))
	case zapcore.BoolType:
		return f.Integer == 1
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok {
			return err
		}
		return f.Interface
	default:
		if f.Interface != nil {
			return f.Interface
		}
		return f.Integer
	}
}
