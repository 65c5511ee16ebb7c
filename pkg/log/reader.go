package log

import (
	"errors"
	"io"
	"iter"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Reader streams events back from a trace file written by FileLogger.
type Reader struct {
	file      *os.File
	decoder   *cbor.Decoder
	filter    Filter
	truncated bool
}

// NewReader opens a trace file for reading every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a trace file for reading the events that match
// filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: newDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
// A record cut short at the end of the file, as left by a crashed writer,
// also ends the stream; Truncated reports it.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.decoder.Decode(&event)
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF):
			r.truncated = true
			return Event{}, io.EOF
		case err != nil:
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Events iterates the remaining matching events. Iteration stops after the
// first error, which is yielded with a zero Event.
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			event, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(event, err) || err != nil {
				return
			}
		}
	}
}

// Truncated reports whether the file ended inside a record.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// Close closes the trace file.
func (r *Reader) Close() error {
	return r.file.Close()
}
