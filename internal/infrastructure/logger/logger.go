package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, or file path
	TimeFormat string
	// Service and Node are stamped on every entry so logs from several
	// gateway nodes can be told apart
	Service string
	Node    string
}

// New builds a zap logger. An unknown level or an unwritable output path is
// an error; a nil cfg gives an info-level console logger on stdout.
func New(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &Config{Format: "console"}
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, err
	}

	var fields []zap.Field
	if cfg.Service != "" {
		fields = append(fields, zap.String("service", cfg.Service))
	}
	if cfg.Node != "" {
		fields = append(fields, zap.String("node_id", cfg.Node))
	}

	core := zapcore.NewCore(encoder(cfg.Format, cfg.TimeFormat), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel), zap.Fields(fields...)), nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch l := strings.ToLower(level); l {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	default:
		lvl, err := zapcore.ParseLevel(l)
		if err != nil {
			return lvl, fmt.Errorf("log level %q: %w", level, err)
		}
		return lvl, nil
	}
}

func encoder(format, timeFormat string) zapcore.Encoder {
	if timeFormat == "" {
		timeFormat = "2006-01-02T15:04:05.000Z07:00"
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder
	encCfg.FunctionKey = zapcore.OmitKey

	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

func openSink(output string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

// Sync flushes buffered entries, ignoring the EINVAL returned for terminals
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}
