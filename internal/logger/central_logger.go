package logger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "time/tzdata" // timezone database for hosts without zoneinfo
)

// LogFilePermissions is used for every log file the logger creates.
const LogFilePermissions = 0o600

var (
	globalMu     sync.Mutex
	globalLogger *CentralLogger
)

// SetGlobal installs the process-wide CentralLogger.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	globalLogger = cl
	globalMu.Unlock()
}

// Global returns the process-wide CentralLogger. Before SetGlobal it is an
// info level console logger, so packages can log during startup.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		cfg := &LoggingConfig{Timezone: "Local"}
		applyConfigDefaults(cfg)
		globalLogger = &CentralLogger{
			config:  cfg,
			tz:      time.Local,
			base:    newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
			files:   map[string]*BufferedFileWriter{},
			modules: map[string]*BufferedFileWriter{},
		}
	}
	return globalLogger
}

// CentralLogger owns the console handler and every log file, and hands out
// module loggers routed by LoggingConfig.
type CentralLogger struct {
	mu      sync.RWMutex
	config  *LoggingConfig
	tz      *time.Location
	base    slog.Handler                   // console plus the main file
	main    *BufferedFileWriter            // nil unless FileOutput is enabled
	files   map[string]*BufferedFileWriter // by path, shared between modules
	modules map[string]*BufferedFileWriter // module name -> its file
}

// NewCentralLogger opens the configured outputs. Missing sections of cfg are
// filled with console defaults.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	cl := &CentralLogger{
		config:  cfg,
		tz:      tz,
		files:   map[string]*BufferedFileWriter{},
		modules: map[string]*BufferedFileWriter{},
	}

	var sinks []slog.Handler
	if c := cfg.Console; c.Enabled {
		sinks = append(sinks, cl.consoleHandler(parseLogLevel(c.Level)))
	}
	if f := cfg.FileOutput; f.Enabled {
		if cl.main, err = cl.openFile(f.Path); err != nil {
			return nil, err
		}
		sinks = append(sinks, newJSONHandler(cl.main, parseLogLevel(f.Level), tz))
	}
	switch len(sinks) {
	case 0:
		cl.base = newTextHandler(os.Stdout, parseLogLevel(cfg.DefaultLevel), tz)
	case 1:
		cl.base = sinks[0]
	default:
		cl.base = newMultiWriterHandler(sinks...)
	}

	for name, out := range cfg.ModuleOutputs {
		if !out.Enabled || out.FilePath == "" {
			continue
		}
		w, err := cl.openFile(out.FilePath)
		if err != nil {
			_ = cl.Close()
			return nil, fmt.Errorf("log output for module %s: %w", name, err)
		}
		cl.modules[name] = w
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

func (cl *CentralLogger) consoleHandler(level slog.Level) slog.Handler {
	if cl.config.Console.Format == "json" {
		return newJSONHandler(os.Stdout, level, cl.tz)
	}
	return newTextHandler(os.Stdout, level, cl.tz)
}

// openFile returns the writer for path, opening it on first use.
func (cl *CentralLogger) openFile(path string) (*BufferedFileWriter, error) {
	if w, ok := cl.files[path]; ok {
		return w, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	w, err := NewBufferedFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	cl.files[path] = w
	return w, nil
}

// Module returns a logger for name. A module with its own file writes JSON
// there, and to the console too when ConsoleAlso is set; other modules share
// the base outputs.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return NewDiscard()
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	level := parseLogLevel(cl.config.DefaultLevel)
	if l, ok := cl.config.ModuleLevels[name]; ok {
		level = parseLogLevel(l)
	}
	out, routed := cl.config.ModuleOutputs[name]
	if routed && out.Level != "" {
		level = parseLogLevel(out.Level)
	}

	handler := cl.base
	if w, ok := cl.modules[name]; ok && routed && out.Enabled {
		handler = newJSONHandler(w, level, cl.tz)
		if out.ConsoleAlso && cl.config.Console.Enabled {
			handler = newMultiWriterHandler(handler, newTextHandler(os.Stdout, level, cl.tz))
		}
	}
	return newModuleLogger(name, handler, level)
}

// Flush writes buffered records to the OS. Close performs the final fsync.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	var errs []error
	for path, w := range cl.files {
		if err := w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every file the logger opened.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	var errs []error
	for path, w := range cl.files {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	cl.files = map[string]*BufferedFileWriter{}
	cl.modules = map[string]*BufferedFileWriter{}
	cl.main = nil
	return errors.Join(errs...)
}
