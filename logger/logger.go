package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mohamedbeat/yeet/config"
)

var Logger *zap.Logger

// InitLogger builds the process logger from cfg and installs it as the zap global.
func InitLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(cfg.Format, true), zapcore.AddSync(color.Output), level),
	}

	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(newEncoder("json", false), zapcore.AddSync(rotating), level))
	}

	Logger = zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	zap.ReplaceGlobals(Logger)
	return Logger, nil
}

// NewWriterLogger logs console lines to w. Used where stdout is not wanted.
func NewWriterLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	return zap.New(zapcore.NewCore(newEncoder("console", false), zapcore.AddSync(w), level))
}

func newEncoder(format string, colored bool) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if format == "json" {
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	if colored && isTerminal() {
		encoderConfig.EncodeLevel = colorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func isTerminal() bool {
	return !color.NoColor && os.Getenv("TERM") != "dumb"
}

// Custom level encoder with colors
func colorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString(color.BlueString("DEBUG"))
	case zapcore.InfoLevel:
		enc.AppendString(color.GreenString("INFO"))
	case zapcore.WarnLevel:
		enc.AppendString(color.YellowString("WARN"))
	case zapcore.ErrorLevel:
		enc.AppendString(color.RedString("ERROR"))
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		enc.AppendString(color.MagentaString("CRITICAL"))
	default:
		enc.AppendString(color.WhiteString(l.CapitalString()))
	}
}

// Outcome colors a decision label for console lines.
func Outcome(label string) string {
	switch label {
	case "redirected":
		return color.MagentaString(label)
	case "pass_through":
		return color.YellowString(label)
	default:
		return color.CyanString(label)
	}
}

// HumanizeBytes renders a byte count for log fields.
func HumanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
