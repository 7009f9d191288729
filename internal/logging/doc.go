// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"video": "debug",  // Per-module overrides
//			"input": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("mymodule")
//	logger.Info("Starting up", "port", 8080)
//	logger.Debug("Details", "config", cfg)
//	logger.Warn("Something unusual", "error", err)
//	logger.Error("Failed", "error", err)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("video").With("device", path)
//	logger.Info("streaming started")  // Includes device in all logs
//
// # Log Levels
//
//	debug - Verbose debugging information
//	info  - General operational messages
//	warn  - Warning conditions
//	error - Error conditions
//
// # Output Destinations
//
// The system automatically detects available outputs and builds one
// handler per output:
//
//	Stdout available  → TextHandler or JSONHandler on stdout
//	Journal available → JournalHandler
//	Always            → BufferHandler (in-memory ring buffer)
//
// When more than one handler is built they are combined in a MultiHandler.
//
// Journal availability is checked via [github.com/coreos/go-systemd/v22/journal.Enabled].
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t ikvmd              # All ikvmd logs
//	journalctl -t ikvmd -f           # Follow live
//	journalctl -t ikvmd --since "5m" # Last 5 minutes
//	journalctl -t ikvmd -p err       # Errors only
//
// Filter by structured fields:
//
//	journalctl -t ikvmd MODULE=video
//	journalctl -t ikvmd MODULE=input
//
// # Configuration
//
// Log levels can be set globally or per-module. Module-specific levels
// override the global level for that module only. Module levels are keys
// directly under [logging], next to level and format.
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	video = "debug"
//	input = "warn"
//	manager = "error"
package logging
