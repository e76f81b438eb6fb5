// Package journal persists an append-only audit trail of decision-loop
// activity: signals, placements, rejections, reconciliation outcomes. Entries
// are msgpack-encoded so a crash mid-write corrupts at most the final record.
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Entry kinds written by the engine.
const (
	KindSignal    = "signal"
	KindOrder     = "order"
	KindRejection = "rejection"
	KindReconcile = "reconcile"
	KindClose     = "close"
	KindError     = "error"
)

// Entry is one audit record.
type Entry struct {
	At      time.Time              `msgpack:"at"`
	Kind    string                 `msgpack:"kind"`
	Symbol  string                 `msgpack:"symbol,omitempty"`
	Message string                 `msgpack:"message"`
	Fields  map[string]interface{} `msgpack:"fields,omitempty"`
}

// Writer appends entries to a journal file. Safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	f     *os.File
	enc   *msgpack.Encoder
	clock func() time.Time
}

// Open opens or creates a journal file for appending.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Writer{f: f, enc: msgpack.NewEncoder(f), clock: time.Now}, nil
}

// SetClock overrides the time source. Intended for tests.
func (w *Writer) SetClock(clock func() time.Time) { w.clock = clock }

// Append writes one entry. A zero At is stamped with the current time.
func (w *Writer) Append(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e.At.IsZero() {
		e.At = w.clock()
	}
	if err := w.enc.Encode(&e); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Read loads every complete entry from a journal file. A truncated trailing
// record is dropped rather than failing the whole read.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	dec := msgpack.NewDecoder(f)
	var out []Entry
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return out, nil
			}
			return out, fmt.Errorf("journal: decode %s: %w", path, err)
		}
		out = append(out, e)
	}
}
