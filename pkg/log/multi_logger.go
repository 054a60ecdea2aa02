package log

// MultiLogger fans out events to multiple loggers.
// Useful for logging to both console and file simultaneously.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that forwards events to all given loggers.
// Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	var filtered []Logger
	for _, l := range loggers {
		if l != nil {
			filtered = append(filtered, l)
		}
	}
	return &MultiLogger{loggers: filtered}
}

// Log forwards the event to all registered loggers.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
