// Package corelog wraps zap with a console encoder that colorizes the
// bracketed level tags the teacher's log.Printf calls used by hand
// ([INFO], [FAIL], [ERROR]), so the switch off bare "log" keeps the same
// texture on a terminal.
package corelog

import (
	"os"

	"github.com/mitchellh/colorstring"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger that writes tagged, colorized lines to stderr.
func New() *zap.Logger {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		StacktraceKey:  "",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    colorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(zapcore.AddSync(os.Stderr)),
		zap.NewAtomicLevelAt(zapcore.InfoLevel),
	)

	return zap.New(core)
}

// colorLevelEncoder renders the teacher's bracketed tags, colorized via
// colorstring: [INFO] in green, [ERROR]/[FAIL] in red, [WARN] in yellow.
func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var tag string
	switch level {
	case zapcore.DebugLevel:
		tag = "[cyan][DEBUG][reset]"
	case zapcore.InfoLevel:
		tag = "[green][INFO][reset]"
	case zapcore.WarnLevel:
		tag = "[yellow][WARN][reset]"
	case zapcore.ErrorLevel:
		tag = "[red][ERROR][reset]"
	default:
		tag = "[red][FAIL][reset]"
	}
	enc.AppendString(colorstring.Color(tag))
}
