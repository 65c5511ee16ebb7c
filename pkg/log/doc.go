// Package log provides structured protocol tracing for the reporting engine
// and its transport.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, engine).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: a rotating binary trace
//	trace, _ := log.OpenFileLogger(log.FileConfig{
//	    Path:     "/var/log/mash/reportd.mlog",
//	    MaxBytes: 64 << 20,
//	})
//
//	// Both
//	cfg.ProtocolLogger = log.Tee(log.NewSlogAdapter(slog.Default()), trace)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw frame bytes (FrameEvent)
//   - Wire: Decoded envelopes (MessageEvent)
//   - Engine: Generated reports (ReportEvent) and transaction state
//     changes (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Trace files are a plain concatenation of CBOR records, conventionally with
// the .mlog extension. Reader streams them back with an optional Filter and
// stops cleanly at a record cut short by a crash.
package log
