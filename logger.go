package hlogcache

import (
	"log/slog"
	"os"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the global default logger with a TextHandler and
// configures the log level from the HLOGCACHE_LOG_LEVEL environment variable.
// Defaults to Info when unset. Callers that want the default logging setup
// should invoke this once at process startup.
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("HLOGCACHE_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// ConfigureRotatingFileLogging sets up the default logger to write to a
// size-rotated log file, for use by the device's I/O error log in long-running
// deployments. maxSizeMB, maxBackups and maxAgeDays follow lumberjack's fields.
func ConfigureRotatingFileLogging(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	logLevel.Set(slog.LevelInfo)
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel sets the logging level used by the logger configured above.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
