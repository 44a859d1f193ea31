package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	defaultBufferSize = 1000
	// SyslogIdentifier tags every journal entry written by the relay.
	SyslogIdentifier = "srtrelay"
)

// Logger is satisfied by *slog.Logger. Components accept it instead of the
// concrete type so tests can record what they log.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config selects the global level, the stdout format and per-module overrides.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mutex         sync.RWMutex
	loggers       = make(map[string]*slog.Logger)
	levels        = make(map[string]*slog.LevelVar)
	globalLevel   = &slog.LevelVar{}
	current       Config
	isInitialized bool
	logBuffer     = NewRingBuffer(defaultBufferSize)
	logCallback   LogCallback
)

// Initialize installs the handler chain and applies cfg to every module
// logger, including those created before the call.
func Initialize(cfg Config) {
	mutex.Lock()
	defer mutex.Unlock()

	current = cfg
	isInitialized = true
	applyLevelsLocked(cfg)

	// Loggers created earlier were bound to the bootstrap text handler.
	for module, lv := range levels {
		loggers[module] = slog.New(createHandler(cfg.Format, lv)).With("module", module)
	}
	slog.SetDefault(slog.New(createHandler(cfg.Format, globalLevel)))
}

// SetLevels changes the global and per-module levels without touching
// handlers. Existing loggers pick up the new levels immediately.
func SetLevels(cfg Config) {
	mutex.Lock()
	defer mutex.Unlock()

	current.Level = cfg.Level
	current.Modules = cfg.Modules
	applyLevelsLocked(cfg)
}

func applyLevelsLocked(cfg Config) {
	global := slog.LevelInfo
	if parsed := parseLevel(cfg.Level); parsed != nil {
		global = *parsed
	}
	globalLevel.Set(global)

	for module, lv := range levels {
		lv.Set(moduleLevel(cfg, module, global))
	}
}

func moduleLevel(cfg Config, module string, global slog.Level) slog.Level {
	if s, ok := cfg.Modules[module]; ok {
		if parsed := parseLevel(s); parsed != nil {
			return *parsed
		}
	}
	return global
}

// Level reports the effective level of a module.
func Level(module string) slog.Level {
	mutex.RLock()
	defer mutex.RUnlock()
	if lv, ok := levels[module]; ok {
		return lv.Level()
	}
	return globalLevel.Level()
}

// GetBuffer returns the ring buffer holding recent log entries.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer
}

// SetLogCallback registers a function invoked for every buffered entry.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

func currentCallback() LogCallback {
	mutex.RLock()
	defer mutex.RUnlock()
	return logCallback
}

// GetLogger returns the logger of a module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := loggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	format := "text"
	if isInitialized {
		lv.Set(moduleLevel(current, module, globalLevel.Level()))
		format = current.Format
	} else {
		lv.Set(slog.LevelInfo)
	}

	logger = slog.New(createHandler(format, lv)).With("module", module)
	loggers[module] = logger
	levels[module] = lv
	return logger
}

// createHandler fans out to stdout, the journal when present and the ring
// buffer. The leveler is shared so SetLevels applies to all of them.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdout)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable is false when stdout is /dev/null or closed.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	return parseLevel(s) != nil
}

func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
