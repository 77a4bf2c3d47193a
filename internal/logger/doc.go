// Package logger provides a leveled, component-tagged logger backed by zap.
//
// Each log entry includes a timestamp, level, optional component tag
// (for example "worker-3" or "server"), and a printf-style message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Application started")
//	logger.Info("worker-1", "Job finished in %v", d)
//	logger.Error("server", "Failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("pool", "Debug message")
//
// # Log Levels
//
// Messages below the configured level are filtered before formatting:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// ParseLevel converts configuration strings ("debug", "info", "warn", "error").
//
// # Thread Safety
//
// The level is a zap.AtomicLevel and the output is wrapped with zapcore.Lock,
// so all operations are safe for concurrent use.
package logger
