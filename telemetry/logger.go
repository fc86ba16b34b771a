package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
)

// TelemetryLogger provides self-contained logging for analytics operations.
// It implements core.Logger.
//
// Design Principles:
//   - Production-ready: JSON format in K8s, text for local dev
//   - Rate-limited: error lines are capped so a dead collector cannot flood logs
//   - Thread-safe: Safe for concurrent access
type TelemetryLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer
	mu          sync.RWMutex

	errGate *errorGate
}

var _ core.Logger = (*TelemetryLogger)(nil)

// NewTelemetryLogger creates a logger configured from the environment.
// Configuration priority:
//  1. Environment variables (OPENXR_ANALYTICS_LOG_LEVEL, OPENXR_ANALYTICS_LOG_FORMAT,
//     OPENXR_ANALYTICS_DEBUG)
//  2. Auto-detection (K8s environment)
//  3. Defaults
func NewTelemetryLogger(serviceName string) *TelemetryLogger {
	return NewTelemetryLoggerFromConfig(serviceName, core.LoggingConfig{})
}

// NewTelemetryLoggerFromConfig creates a logger from explicit logging
// settings. Empty fields fall back to the environment and then defaults.
func NewTelemetryLoggerFromConfig(serviceName string, cfg core.LoggingConfig) *TelemetryLogger {
	level := cfg.Level
	if level == "" {
		level = os.Getenv("OPENXR_ANALYTICS_LOG_LEVEL")
	}
	if level == "" {
		level = "INFO"
	}

	debug := os.Getenv("OPENXR_ANALYTICS_DEBUG") == "true" ||
		strings.ToUpper(level) == "DEBUG"

	format := cfg.Format
	if format == "" {
		format = os.Getenv("OPENXR_ANALYTICS_LOG_FORMAT")
	}
	if format == "" {
		format = "text"
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json" // Use JSON in K8s for log aggregation
		}
	}

	errorInterval := cfg.ErrorInterval
	if errorInterval == 0 {
		errorInterval = time.Second
	}

	return &TelemetryLogger{
		level:       strings.ToUpper(level),
		debug:       debug,
		serviceName: serviceName,
		format:      format,
		output:      os.Stdout,
		errGate:     newErrorGate(errorInterval, time.Now),
	}
}

// Info logs informational messages
func (l *TelemetryLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *TelemetryLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages, at most one per ErrorInterval. The next line
// written carries a "suppressed" count of the ones dropped in between.
func (l *TelemetryLogger) Error(msg string, fields map[string]interface{}) {
	if l.errGate != nil {
		ok, held := l.errGate.pass()
		if !ok {
			return
		}
		if held > 0 {
			withCount := make(map[string]interface{}, len(fields)+1)
			for k, v := range fields {
				withCount[k] = v
			}
			withCount["suppressed"] = held
			fields = withCount
		}
	}
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages (only when debug mode is enabled)
func (l *TelemetryLogger) Debug(msg string, fields map[string]interface{}) {
	l.mu.RLock()
	debug := l.debug
	l.mu.RUnlock()
	if !debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *TelemetryLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)

	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

func (l *TelemetryLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	logEntry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"component": "analytics",
		"message":   msg,
	}

	for k, v := range fields {
		// Avoid overwriting core fields
		if _, reserved := logEntry[k]; !reserved {
			logEntry[k] = v
		}
	}

	if data, err := json.Marshal(logEntry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *TelemetryLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var fieldStr strings.Builder
	if len(fields) > 0 {
		// error/action/impact first, the rest sorted so lines diff cleanly
		for _, key := range []string{"error", "action", "impact"} {
			if v, ok := fields[key]; ok {
				fieldStr.WriteString(fmt.Sprintf(" %s=%q", key, fmt.Sprint(v)))
			}
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			if k != "error" && k != "action" && k != "impact" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
		}
	}

	fmt.Fprintf(l.output, "%s [%s] [analytics:%s] %s%s\n",
		timestamp, level, l.serviceName, msg, fieldStr.String())
}

func (l *TelemetryLogger) shouldLog(level string) bool {
	levels := map[string]int{
		"DEBUG": 0,
		"INFO":  1,
		"WARN":  2,
		"ERROR": 3,
	}

	currentLevel, ok1 := levels[l.level]
	messageLevel, ok2 := levels[level]

	// Default to logging if levels are unknown
	if !ok1 || !ok2 {
		return true
	}

	return messageLevel >= currentLevel
}

// SetLevel dynamically updates the log level
func (l *TelemetryLogger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = strings.ToUpper(level)
	l.debug = l.level == "DEBUG"
}

// SetFormat dynamically updates the log format
func (l *TelemetryLogger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
}

// SetOutput changes the output writer (useful for testing)
func (l *TelemetryLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}
