package log

// Logger receives protocol trace events. Log is called from the engine
// loop and from connection goroutines, so implementations must be safe for
// concurrent use and must not block.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger discards every event. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Enabled reports whether l records anything. Callers use it to skip
// building events nobody reads.
func Enabled(l Logger) bool {
	switch l.(type) {
	case nil, NoopLogger:
		return false
	}
	return true
}

// Tee returns a Logger that hands each event to every non-nil logger in
// order. Nested tees are flattened and no-op loggers dropped; with nothing
// left Tee returns NoopLogger.
func Tee(loggers ...Logger) Logger {
	var sinks tee
	for _, l := range loggers {
		switch l := l.(type) {
		case nil, NoopLogger:
		case tee:
			sinks = append(sinks, l...)
		default:
			sinks = append(sinks, l)
		}
	}
	switch len(sinks) {
	case 0:
		return NoopLogger{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

type tee []Logger

func (t tee) Log(event Event) {
	for _, l := range t {
		l.Log(event)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
	_ Logger = tee(nil)
)
