// Package logging provides structured, leveled logging with per-module levels.
//
// Every component asks for a named logger once:
//
//	logger := logging.GetLogger("router")
//	logger.Info("Stream bound", "slot", "video", "tag", "video/x-h264")
//
// Records fan out to stdout (text or JSON), to the systemd journal when
// journald is reachable, and to an in-memory ring buffer served by
// GET /api/logs. Levels are held in slog.LevelVars, so SetLevels changes them
// at runtime without rebuilding handlers; the relay calls it when config.toml
// changes.
//
// Example configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	router = "debug"
//	media = "warn"
//
// Journal entries carry SYSLOG_IDENTIFIER=srtrelay:
//
//	journalctl -t srtrelay -f
//	journalctl -t srtrelay MODULE=supervisor
package logging
