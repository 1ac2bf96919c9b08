// Package logging provides structured logging for the mesh bridge.
//
// This package wraps Go's standard log/slog package so every component
// emits the same structured shape.
//
// # Features
//
//   - JSON output for unattended runs (machine-parsable)
//   - Text output for a console session
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bridge started", "publish_count", n)
//	logger.Component("mqtt").Warn("connection lost", "error", err)
//
// # Security
//
// Never log broker passwords, InfluxDB tokens, or private key material.
package logging
