// Package logger builds the zap loggers used across licensed.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a supported logging granularity
type Level string

// Supported levels
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format is a supported output encoding
type Format string

// Supported formats
const (
	FormatStructured Format = "structured"
	FormatConsole    Format = "console"
)

var levels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

var encodings = map[Format]string{
	FormatStructured: "json",
	FormatConsole:    "console",
}

// Factory builds loggers writing to stderr so reports on stdout stay clean
type Factory struct {
	outputPaths []string
}

// NewFactory creates a factory writing to stderr
func NewFactory() *Factory {
	return &Factory{outputPaths: []string{"stderr"}}
}

// Create returns a logger for the requested level and format. Empty values
// fall back to info and console.
func (f *Factory) Create(level Level, format Format) (*zap.Logger, error) {
	if level == "" {
		level = LevelInfo
	}
	if format == "" {
		format = FormatConsole
	}

	zapLevel, ok := levels[Level(strings.ToLower(string(level)))]
	if !ok {
		return nil, fmt.Errorf("unsupported log level: %s", level)
	}
	encoding, ok := encodings[Format(strings.ToLower(string(format)))]
	if !ok {
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Encoding = encoding
	config.OutputPaths = f.outputPaths
	config.ErrorOutputPaths = f.outputPaths
	if encoding == "console" {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return config.Build()
}
