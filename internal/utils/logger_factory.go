package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logLevelDebugStringConstant          = "debug"
	logLevelInfoStringConstant           = "info"
	logLevelWarnStringConstant           = "warn"
	logLevelErrorStringConstant          = "error"
	logFormatStructuredStringConstant    = "structured"
	logFormatConsoleStringConstant       = "console"
	jsonZapEncodingStringConstant        = "json"
	consoleZapEncodingStringConstant     = "console"
	timestampEncoderKeyConstant          = "time"
	unsupportedLogLevelTemplateConstant  = "unsupported log level: %s"
	unsupportedLogFormatTemplateConstant = "unsupported log format: %s"
)

// LogLevel enumerates supported logging granularities.
type LogLevel string

// Exported log level constants for reuse across packages.
const (
	LogLevelDebug LogLevel = LogLevel(logLevelDebugStringConstant)
	LogLevelInfo  LogLevel = LogLevel(logLevelInfoStringConstant)
	LogLevelWarn  LogLevel = LogLevel(logLevelWarnStringConstant)
	LogLevelError LogLevel = LogLevel(logLevelErrorStringConstant)
)

// LogFormat enumerates supported logger output encodings.
type LogFormat string

// Exported log format constants for reuse across packages.
const (
	LogFormatStructured LogFormat = LogFormat(logFormatStructuredStringConstant)
	LogFormatConsole    LogFormat = LogFormat(logFormatConsoleStringConstant)
)

// LoggerFactory builds zap.Logger instances with consistent configuration.
type LoggerFactory struct{}

var logLevelMapping = map[LogLevel]zapcore.Level{
	LogLevelDebug: zapcore.DebugLevel,
	LogLevelInfo:  zapcore.InfoLevel,
	LogLevelWarn:  zapcore.WarnLevel,
	LogLevelError: zapcore.ErrorLevel,
}

var logFormatEncodingMapping = map[LogFormat]string{
	LogFormatStructured: jsonZapEncodingStringConstant,
	LogFormatConsole:    consoleZapEncodingStringConstant,
}

// NewLoggerFactory constructs a new logger factory.
func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{}
}

// ValidateLogSettings reports whether the level and format are supported without building a logger.
func ValidateLogSettings(requestedLogLevel LogLevel, requestedLogFormat LogFormat) error {
	if _, levelExists := logLevelMapping[normalizeLogLevel(requestedLogLevel)]; !levelExists {
		return fmt.Errorf(unsupportedLogLevelTemplateConstant, requestedLogLevel)
	}
	if _, formatExists := logFormatEncodingMapping[normalizeLogFormat(requestedLogFormat)]; !formatExists {
		return fmt.Errorf(unsupportedLogFormatTemplateConstant, requestedLogFormat)
	}
	return nil
}

// CreateLogger produces a zap.Logger honoring the requested log level and format.
// Console output uses ISO8601 timestamps and colored levels for operators
// watching the service in a terminal.
func (factory *LoggerFactory) CreateLogger(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (*zap.Logger, error) {
	if validationError := ValidateLogSettings(requestedLogLevel, requestedLogFormat); validationError != nil {
		return nil, validationError
	}

	normalizedFormat := normalizeLogFormat(requestedLogFormat)

	configuration := zap.NewProductionConfig()
	configuration.Level = zap.NewAtomicLevelAt(logLevelMapping[normalizeLogLevel(requestedLogLevel)])
	configuration.Encoding = logFormatEncodingMapping[normalizedFormat]
	configuration.EncoderConfig.TimeKey = timestampEncoderKeyConstant
	configuration.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if normalizedFormat == LogFormatConsole {
		configuration.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		configuration.DisableStacktrace = true
	}

	logger, buildError := configuration.Build()
	if buildError != nil {
		return nil, buildError
	}

	return logger, nil
}

func normalizeLogLevel(requestedLogLevel LogLevel) LogLevel {
	return LogLevel(strings.ToLower(strings.TrimSpace(string(requestedLogLevel))))
}

func normalizeLogFormat(requestedLogFormat LogFormat) LogFormat {
	return LogFormat(strings.ToLower(strings.TrimSpace(string(requestedLogFormat))))
}
