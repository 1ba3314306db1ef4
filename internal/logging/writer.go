package logging

import (
	"bytes"
	"sync"

	log "github.com/sirupsen/logrus"
)

// MaxLineBytes is the longest piece of child output logged as one entry.
const MaxLineBytes = 16 * 1024

// LineWriter logs every line written to it as one entry at a fixed level.
// Lines longer than the limit are logged in pieces. Write never fails, so a
// process writing into it never sees a broken pipe.
type LineWriter struct {
	mu    sync.Mutex
	entry *log.Entry
	level log.Level
	max   int
	buf   []byte
}

func NewLineWriter(entry *log.Entry, level log.Level, max int) *LineWriter {
	if max <= 0 {
		max = MaxLineBytes
	}
	return &LineWriter{entry: entry, level: level, max: max}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			p = nil
		} else {
			w.buf = append(w.buf, p[:i]...)
			p = p[i+1:]
			w.flush()
			continue
		}
		for len(w.buf) >= w.max {
			w.emit(w.buf[:w.max])
			w.buf = w.buf[w.max:]
		}
	}
	return n, nil
}

// Close logs any trailing partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flush()
	return nil
}

func (w *LineWriter) flush() {
	line := bytes.TrimSuffix(w.buf, []byte{'\r'})
	for len(line) > w.max {
		w.emit(line[:w.max])
		line = line[w.max:]
	}
	if len(line) > 0 {
		w.emit(line)
	}
	w.buf = w.buf[:0]
}

func (w *LineWriter) emit(b []byte) {
	w.entry.Log(w.level, string(b))
}
