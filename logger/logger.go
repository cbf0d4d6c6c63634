package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"battery_dashboard_etl/config"
)

// LogLevel constants
const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
)

var levels = map[string]int{
	DEBUG: 0,
	INFO:  1,
	WARN:  2,
	ERROR: 3,
}

var (
	mu sync.RWMutex

	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	logFile     *os.File
	logLevel    = INFO
)

// Init initializes the logging system using configuration
func Init(cfg *config.Config) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}

	logPath := cfg.Logging.LogFile
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(cwd, logPath)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	var out, errOut io.Writer = file, file
	if cfg.Logging.LogToConsole {
		out = io.MultiWriter(os.Stdout, file)
		errOut = io.MultiWriter(os.Stderr, file)
	}

	mu.Lock()
	logFile = file
	mu.Unlock()
	setup(out, errOut, cfg.Logging.LogLevel)

	Printf("=== Session started at %s ===\n", time.Now().Format("2006-01-02 15:04:05"))
	Printf("Log file: %s\n", logPath)
	Printf("Log level: %s\n", cfg.Logging.LogLevel)
	LogDivider()

	return nil
}

// SetOutput routes every level to w. Used by tests and dry runs.
func SetOutput(w io.Writer, level string) {
	setup(w, w, level)
}

func setup(out, errOut io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()

	infoLogger = log.New(out, "", 0)
	warnLogger = log.New(out, "", 0)
	errorLogger = log.New(errOut, "", 0)

	level = strings.ToLower(level)
	if _, ok := levels[level]; !ok {
		level = INFO
	}
	logLevel = level
}

// Close closes the log file
func Close() error {
	mu.Lock()
	file := logFile
	logFile = nil
	mu.Unlock()

	if file == nil {
		return nil
	}
	LogDivider()
	Printf("=== Session ended at %s ===\n\n", time.Now().Format("2006-01-02 15:04:05"))
	return file.Close()
}

// shouldLog determines if a message should be logged based on log level
func shouldLog(messageLevel string) bool {
	mu.RLock()
	current := levels[logLevel]
	mu.RUnlock()
	return levels[messageLevel] >= current
}

func output(l func() *log.Logger, fallback io.Writer, format string, v ...interface{}) {
	if lg := l(); lg != nil {
		lg.Printf(format, v...)
		return
	}
	fmt.Fprintf(fallback, format, v...)
}

func info() *log.Logger  { mu.RLock(); defer mu.RUnlock(); return infoLogger }
func warn() *log.Logger  { mu.RLock(); defer mu.RUnlock(); return warnLogger }
func errlg() *log.Logger { mu.RLock(); defer mu.RUnlock(); return errorLogger }

// Printf prints formatted text to log (respects log level)
func Printf(format string, v ...interface{}) {
	if shouldLog(INFO) {
		output(info, os.Stdout, format, v...)
	}
}

// Println prints a line to log (respects log level)
func Println(v ...interface{}) {
	if shouldLog(INFO) {
		output(info, os.Stdout, "%s\n", fmt.Sprint(v...))
	}
}

// Debugf prints formatted debug text
func Debugf(format string, v ...interface{}) {
	if shouldLog(DEBUG) {
		output(info, os.Stdout, "DEBUG: "+format, v...)
	}
}

// Warnf prints formatted warning text
func Warnf(format string, v ...interface{}) {
	if shouldLog(WARN) {
		output(warn, os.Stdout, "WARN: "+format, v...)
	}
}

// Errorf prints formatted error text (always logged regardless of level)
func Errorf(format string, v ...interface{}) {
	output(errlg, os.Stderr, "ERROR: "+format, v...)
}

// Fatalf prints formatted fatal error and exits (always logged)
func Fatalf(format string, v ...interface{}) {
	output(errlg, os.Stderr, "FATAL: "+format, v...)
	Close()
	os.Exit(1)
}

// LogCommand logs the command being executed
func LogCommand(args []string) {
	if len(args) == 0 {
		return
	}
	Printf("Command executed: %s\n", strings.Join(args, " "))
}

// LogDivider prints a divider line for better log organization
func LogDivider() {
	Println("------------------------------------------------------------")
}

// LogResult logs a result with status
func LogResult(operation string, success bool, details string) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	if details != "" {
		Printf("%s: %s - %s\n", operation, status, details)
		return
	}
	Printf("%s: %s\n", operation, status)
}
