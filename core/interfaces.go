package core

// Logger interface - simple and focused
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// NoOpLogger discards everything. Components fall back to it when no
// logger is injected.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

// LoggerOrNoop returns l, or a NoOpLogger when l is nil.
func LoggerOrNoop(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
