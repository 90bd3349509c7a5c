package logs

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nestymook/healthcoord/internal/config"
)

// Log level constants.
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() *config.LogConfig {
	return &config.LogConfig{
		Level:         LogLevelInfo,
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "healthcoordd.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
		JSONFormat:    false,
	}
}

// SetupLogger creates a logger with file and/or console outputs, wrapped in
// the secret-redacting core, based on cfg.
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}

	level := parseLevel(cfg.Level)
	var cores []zapcore.Core

	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(getConsoleEncoder(), zapcore.AddSync(os.Stderr), level))
	}
	if cfg.EnableFile {
		fileCore, err := createFileCore(cfg, level)
		if err != nil {
			return nil, fmt.Errorf("create file core: %w", err)
		}
		cores = append(cores, fileCore)
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs configured")
	}

	core := NewSecretSanitizer(zapcore.NewTee(cores...))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

// SetupCommandLogger builds a logger for CLI subcommands, defaulting to INFO
// for the long-running daemon command and WARN for one-shot commands.
func SetupCommandLogger(daemonCommand bool, logLevel string, logToFile bool, logDir string) (*zap.Logger, error) {
	defaultLevel := LogLevelWarn
	if daemonCommand {
		defaultLevel = LogLevelInfo
	}
	level := defaultLevel
	if logLevel != "" {
		level = logLevel
	}

	cfg := &config.LogConfig{
		Level:         level,
		EnableFile:    logToFile,
		EnableConsole: true,
		Filename:      "healthcoordd.log",
		LogDir:        logDir,
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
	}
	return SetupLogger(cfg)
}

func parseLevel(raw string) zapcore.Level {
	switch raw {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func createFileCore(cfg *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	logFilePath, err := GetLogFilePathWithDir(cfg.LogDir, cfg.Filename)
	if err != nil {
		return nil, fmt.Errorf("resolve log file path: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var encoder zapcore.Encoder
	if cfg.JSONFormat {
		encoder = getJSONEncoder()
	} else {
		encoder = getFileEncoder()
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(lj), level), nil
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getFileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getJSONEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// LoggerInfo describes the active logger setup, for diagnostics endpoints.
type LoggerInfo struct {
	LogDir        string    `json:"log_dir"`
	LogFile       string    `json:"log_file"`
	Level         string    `json:"level"`
	EnableFile    bool      `json:"enable_file"`
	EnableConsole bool      `json:"enable_console"`
	CreatedAt     time.Time `json:"created_at"`
}

// GetLoggerInfo reports the resolved log directory/file for cfg.
func GetLoggerInfo(cfg *config.LogConfig) (*LoggerInfo, error) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}
	logDir, err := GetLogDir()
	if err != nil {
		return nil, err
	}
	logFile, err := GetLogFilePath(cfg.Filename)
	if err != nil {
		return nil, err
	}
	return &LoggerInfo{
		LogDir:        logDir,
		LogFile:       logFile,
		Level:         cfg.Level,
		EnableFile:    cfg.EnableFile,
		EnableConsole: cfg.EnableConsole,
		CreatedAt:     time.Now(),
	}, nil
}
