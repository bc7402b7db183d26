// Package logging provides config-driven categorized file-based logging for chatwidget.
// Logs are written to .chatwidget/logs/ with separate files per category.
// Logging is controlled by logging.debug_mode in the config; when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chatwidget/internal/config"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup, config resolution
	CategoryConfig  Category = "config"  // Config reloads
	CategoryWidget  Category = "widget"  // Exchange state machine
	CategoryBackend Category = "backend" // Outbound question requests
	CategoryUI      Category = "ui"      // Terminal interface
	CategoryWeb     Category = "web"     // Browser widget server
	CategoryStore   Category = "store"   // Transcript persistence
)

// AllCategories lists every category in a stable order.
var AllCategories = []Category{
	CategoryBoot,
	CategoryConfig,
	CategoryWidget,
	CategoryBackend,
	CategoryUI,
	CategoryWeb,
	CategoryStore,
}

// Logger is a category-scoped printf-style logger. The zero value is a no-op.
// Loggers returned by Get stay valid across Reconfigure: they write through
// the category's sink, which is reopened in place.
type Logger struct {
	category Category
	sink     *sink
	fields   []interface{}
}

// sink owns the open file and zap core for one category.
type sink struct {
	mu    sync.RWMutex
	sugar *zap.SugaredLogger
	file  *os.File
}

var (
	sinks   = make(map[Category]*sink)
	sinksMu sync.Mutex
	logsDir string
	cfg     config.LoggingConfig
	cfgMu   sync.RWMutex
)

// Initialize sets up the logging directory from the given config.
// Should be called once at startup with the workspace path.
func Initialize(workspace string, lc config.LoggingConfig) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	CloseAll()

	cfgMu.Lock()
	cfg = lc
	logsDir = filepath.Join(workspace, ".chatwidget", "logs")
	cfgMu.Unlock()

	if !lc.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	reopenSinks()

	boot := Get(CategoryBoot)
	boot.Info("=== chatwidget logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", lc.Level)
	if len(lc.Categories) == 0 {
		boot.Info("All categories enabled (no category filter)")
	}
	if err := InitAudit(); err != nil {
		boot.Warn("Audit log disabled: %v", err)
	}

	return nil
}

// Reconfigure swaps the logging config at runtime. Category files are
// reopened under the new level, format and filter; loggers already handed
// out keep working.
func Reconfigure(lc config.LoggingConfig) {
	cfgMu.Lock()
	cfg = lc
	dir := logsDir
	cfgMu.Unlock()

	CloseAudit()
	if lc.DebugMode && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "[logging] Warning: could not create %s: %v\n", dir, err)
		}
	}
	reopenSinks()
	if lc.DebugMode && dir != "" {
		_ = InitAudit()
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg.IsCategoryEnabled(string(category))
}

func zapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Get returns the logger for the given category. It writes nothing while
// debug mode or the category is disabled.
func Get(category Category) *Logger {
	sinksMu.Lock()
	defer sinksMu.Unlock()

	s, ok := sinks[category]
	if !ok {
		s = &sink{}
		s.open(category)
		sinks[category] = s
	}
	return &Logger{category: category, sink: s}
}

// reopenSinks points every known sink at the current config.
func reopenSinks() {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	for cat, s := range sinks {
		s.open(cat)
	}
}

// open replaces the sink's core with one built from the current config,
// closing the previous file. A disabled category leaves the sink empty.
func (s *sink) open(category Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()

	if !IsCategoryEnabled(category) {
		return
	}
	cfgMu.RLock()
	dir := logsDir
	lc := cfg
	cfgMu.RUnlock()
	if dir == "" {
		return
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if lc.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(file), zapLevel(lc.Level))

	s.file = file
	s.sugar = zap.New(core).Named(string(category)).Sugar()
}

func (s *sink) closeLocked() {
	if s.sugar != nil {
		_ = s.sugar.Sync()
	}
	if s.file != nil {
		s.file.Close()
	}
	s.sugar = nil
	s.file = nil
}

// write runs fn with the current core while holding the sink's read lock,
// so a concurrent reopen cannot close the file mid-write.
func (l *Logger) write(fn func(*zap.SugaredLogger)) {
	if l.sink == nil {
		return
	}
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	if l.sink.sugar == nil {
		return
	}
	sugar := l.sink.sugar
	if len(l.fields) > 0 {
		sugar = sugar.With(l.fields...)
	}
	fn(sugar)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(func(s *zap.SugaredLogger) { s.Debugf(format, args...) })
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(func(s *zap.SugaredLogger) { s.Infof(format, args...) })
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(func(s *zap.SugaredLogger) { s.Warnf(format, args...) })
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(func(s *zap.SugaredLogger) { s.Errorf(format, args...) })
}

// With returns a logger carrying structured key-value fields.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sink == nil {
		return l
	}
	fields := append(l.fields[:len(l.fields):len(l.fields)], keysAndValues...)
	return &Logger{category: l.category, sink: l.sink, fields: fields}
}

// CloseAll flushes and closes all open log files (call at shutdown).
// Loggers already handed out become no-ops until the next Initialize.
func CloseAll() {
	sinksMu.Lock()
	for _, s := range sinks {
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
	}
	sinksMu.Unlock()
	CloseAudit()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
