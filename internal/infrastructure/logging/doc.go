// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two formats:
//   - json: machine-parsable output for production
//   - console: colored output for local development
//
// Log Levels:
//   - Debug: Verbose debugging information
//   - Info: General informational messages
//   - Warn: Warning messages
//   - Error: Error messages
//   - Fatal: Fatal errors (exits process)
//
// Features:
//   - Zero-allocation logging in production
//   - Structured fields for context
//   - Configurable output paths
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("server starting", zap.String("port", "8700"))
//	logger.Error("connect failed", zap.Error(err))
package logging
