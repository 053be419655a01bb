package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WriterOptions tune the JSONL sink. The zero value is the crash-safe
// default: every event is written straight through to the file.
type WriterOptions struct {
	// MaxBytes rotates the file when exceeded; 0 disables rotation. The
	// current file is renamed with a timestamp suffix and a fresh one opened.
	MaxBytes int64

	// Buffered trades crash safety for throughput. Flush is called at
	// run_end and on cancellation by the owning service.
	Buffered bool

	// OnError receives write failures. Tracing never crashes a run, so
	// errors are reported here (or dropped) instead of returned.
	OnError func(error)
}

// Writer appends events to a JSONL trace file, one JSON object per line,
// LF-terminated. A writer is owned by exactly one trace service; Append is
// still serialised internally so misuse degrades instead of corrupting.
type Writer struct {
	mu   sync.Mutex
	path string
	opts WriterOptions

	f  *os.File
	bw *bufio.Writer
	n  int64
}

func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{path: path, opts: opts, f: f}
	if fi, err := f.Stat(); err == nil {
		w.n = fi.Size()
	}
	if opts.Buffered {
		w.bw = bufio.NewWriter(f)
	}
	return w, nil
}

func (w *Writer) Path() string { return w.path }

// Append writes one event line. Failures are routed to OnError and swallowed.
func (w *Writer) Append(ev *Event) {
	if w == nil || ev == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		w.report(fmt.Errorf("encode event %s: %w", ev.Name, err))
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		w.report(fmt.Errorf("append to closed trace writer: %s", w.path))
		return
	}
	if w.opts.MaxBytes > 0 && w.n > 0 && w.n+int64(len(line)) > w.opts.MaxBytes {
		if err := w.rotateLocked(); err != nil {
			w.report(fmt.Errorf("rotate %s: %w", w.path, err))
		}
	}
	var werr error
	if w.bw != nil {
		_, werr = w.bw.Write(line)
	} else {
		_, werr = w.f.Write(line)
	}
	if werr != nil {
		w.report(fmt.Errorf("write event %s: %w", ev.Name, werr))
		return
	}
	w.n += int64(len(line))
}

func (w *Writer) rotateLocked() error {
	if w.bw != nil {
		if err := w.bw.Flush(); err != nil {
			return err
		}
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	suffix := time.Now().UTC().Format("20060102T150405.000000000")
	if err := os.Rename(w.path, w.path+"."+suffix); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.f = nil
		w.bw = nil
		return err
	}
	w.f = f
	if w.opts.Buffered {
		w.bw = bufio.NewWriter(f)
	}
	w.n = 0
	return nil
}

func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bw != nil {
		return w.bw.Flush()
	}
	return nil
}

func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	if w.bw != nil {
		if err := w.bw.Flush(); err != nil {
			w.report(err)
		}
		w.bw = nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *Writer) report(err error) {
	if w.opts.OnError != nil {
		w.opts.OnError(err)
	}
}
