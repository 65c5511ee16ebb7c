package log

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// FileConfig configures a FileLogger.
type FileConfig struct {
	// Path of the active trace file. Events are appended.
	Path string

	// MaxBytes rotates the trace once it would grow past this size. The
	// previous file is kept as Path + ".1", replacing an older one. Zero
	// disables rotation.
	MaxBytes int64
}

// FileLogger appends CBOR encoded events to a trace file that Reader can
// stream back. It is safe for concurrent use.
type FileLogger struct {
	cfg FileConfig

	mu     sync.Mutex
	file   *os.File
	size   int64
	buf    bytes.Buffer
	closed bool

	dropped atomic.Uint64
}

// NewFileLogger opens path for appending without rotation.
func NewFileLogger(path string) (*FileLogger, error) {
	return OpenFileLogger(FileConfig{Path: path})
}

// OpenFileLogger opens the trace file described by cfg.
func OpenFileLogger(cfg FileConfig) (*FileLogger, error) {
	if cfg.MaxBytes < 0 {
		return nil, fmt.Errorf("trace file %s: negative size limit", cfg.Path)
	}
	l := &FileLogger{cfg: cfg}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// Log appends event. Events that fail to encode or write are counted in
// Dropped; tracing never fails the caller.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.buf.Reset()
	if err := encMode.NewEncoder(&l.buf).Encode(event); err != nil {
		l.dropped.Add(1)
		return
	}

	n := int64(l.buf.Len())
	if l.cfg.MaxBytes > 0 && l.size > 0 && l.size+n > l.cfg.MaxBytes {
		if err := l.rotate(); err != nil {
			l.dropped.Add(1)
			return
		}
	}

	written, err := l.file.Write(l.buf.Bytes())
	l.size += int64(written)
	if err != nil {
		l.dropped.Add(1)
	}
}

// rotate moves the active file aside and starts a new one.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	renameErr := os.Rename(l.cfg.Path, l.cfg.Path+".1")
	if err := l.open(); err != nil {
		return err
	}
	return renameErr
}

// Dropped returns the number of events that could not be written.
func (l *FileLogger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close closes the trace file. Later Log calls are ignored and further
// Close calls return nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
