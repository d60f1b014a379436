package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapOptions configures the zap backend.
type ZapOptions struct {
	// Filename enables logging to a file that is rotated by size. Writer is ignored when set.
	Filename string
	// MaxSize is the maximum size in megabytes of the log file before it gets rotated. Defaults to 100.
	MaxSize int
	// MaxBackups is the maximum number of rotated files to retain. Zero retains all of them.
	MaxBackups int
	// MaxAge is the maximum number of days to retain rotated files. Zero disables age based removal.
	MaxAge int
	// Compress compresses rotated files with gzip.
	Compress bool
	// Writer is the log destination when Filename is empty. Defaults to stdout.
	Writer io.Writer
}

// ZapLogger is a Logger backed by a zap SugaredLogger.
type ZapLogger struct {
	sugar  *zap.SugaredLogger
	level  zap.AtomicLevel
	closer io.Closer
}

var _ Logger = (*ZapLogger)(nil)

// NewZap creates a zap logger that encodes records as JSON.
func NewZap(level LogLevel, opts ZapOptions) *ZapLogger {
	atom := zap.NewAtomicLevelAt(toZapLevel(level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var (
		sink   zapcore.WriteSyncer
		closer io.Closer
	)
	switch {
	case opts.Filename != "":
		rotator := &lumberjack.Logger{
			Filename:   opts.Filename,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		sink, closer = zapcore.AddSync(rotator), rotator
	case opts.Writer != nil:
		sink = zapcore.AddSync(opts.Writer)
	default:
		sink = zapcore.Lock(os.Stdout)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, atom)

	return &ZapLogger{
		sugar:  zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
		level:  atom,
		closer: closer,
	}
}

func (z *ZapLogger) Debug(msg string, keysAndValues ...any) { z.sugar.Debugw(msg, keysAndValues...) }

func (z *ZapLogger) Info(msg string, keysAndValues ...any) { z.sugar.Infow(msg, keysAndValues...) }

func (z *ZapLogger) Warn(msg string, keysAndValues ...any) { z.sugar.Warnw(msg, keysAndValues...) }

func (z *ZapLogger) Error(msg string, keysAndValues ...any) { z.sugar.Errorw(msg, keysAndValues...) }

func (z *ZapLogger) Fatal(msg string, keysAndValues ...any) { z.sugar.Fatalw(msg, keysAndValues...) }

// With returns a child logger that shares the level of z.
func (z *ZapLogger) With(keyValues ...any) Logger {
	return &ZapLogger{sugar: z.sugar.With(keyValues...), level: z.level}
}

func (z *ZapLogger) Level() LogLevel {
	switch z.level.Level() {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

func (z *ZapLogger) SetLevel(level LogLevel) { z.level.SetLevel(toZapLevel(level)) }

// Close flushes buffered records and closes the log file, if any.
func (z *ZapLogger) Close() error {
	_ = z.sugar.Sync()
	if z.closer != nil {
		return z.closer.Close()
	}

	return nil
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}
