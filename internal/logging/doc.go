// Package logging wires log/slog with one logger per module.
//
// Each module logger carries a module attribute and its own level, so the
// acquisition loop can run at debug while the HTTP layer stays at warn:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"capture": "debug",
//			"http":    "warn",
//		},
//	})
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Source opened", "source", id)
//
// Records go to stdout (text or json) when it is attached, to the systemd
// journal when journald is reachable, and always to an in-memory history
// that feeds the /api/logs/stream endpoint.
//
// Under systemd the output can be filtered by field:
//
//	journalctl -t camrelay MODULE=capture
//	journalctl -t camrelay -p warning -f
//
// Levels can be changed at runtime with Apply; module loggers keep their
// identity and pick the new level up immediately.
//
// TOML form:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	capture = "debug"
//	ffmpeg = "warn"
package logging
