package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const hourLayout = "2006-01-02-15"

// Writer appends JSON lines to <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst, one
// file per UTC hour. Reopening an hour that already has a file adds a new
// zstd frame to it; readers see one continuous stream.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now}
}

// Write encodes v as one line. The line is flushed through the encoder
// before Write returns, so a crash loses at most a line being written.
func (w *Writer) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if h := w.now().UTC().Format(hourLayout); h != w.hour {
		if err := w.switchTo(h); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.zw.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.release()
}

// Path is the file the given instant is written to.
func (w *Writer) Path(t time.Time) string {
	return filepath.Join(w.dir, w.prefix+"-"+t.UTC().Format(hourLayout)+".jsonl.zst")
}

func (w *Writer) switchTo(hour string) error {
	if err := w.release(); err != nil {
		return err
	}
	t, err := time.Parse(hourLayout, hour)
	if err != nil {
		return err
	}
	path := w.Path(t)
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.hour, w.file, w.zw = hour, f, zw
	w.buf = bufio.NewWriterSize(zw, 64*1024)
	return nil
}

// release closes the current file, if any. The encoder is closed before the
// file so the frame is complete on disk.
func (w *Writer) release() error {
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	zErr := w.zw.Close()
	fErr := w.file.Close()
	w.hour, w.file, w.zw, w.buf = "", nil, nil, nil
	return errors.Join(flushErr, zErr, fErr)
}
