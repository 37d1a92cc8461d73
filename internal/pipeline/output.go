package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// maxLineBytes caps a single logged line; longer output is split
const maxLineBytes = 4096

// lineWriter logs every line the command writes. Only the current partial
// line is buffered.
type lineWriter struct {
	logger  *slog.Logger
	stream  string
	tail    *tailBuffer
	partial []byte
	lines   int
}

func newLineWriter(logger *slog.Logger, stream string, tail *tailBuffer) *lineWriter {
	return &lineWriter{
		logger: logger,
		stream: stream,
		tail:   tail,
	}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.tail != nil {
		w.tail.Write(p)
	}

	data := p
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			w.partial = append(w.partial, data...)
			break
		}
		if len(w.partial) > 0 {
			w.partial = append(w.partial, data[:i]...)
			w.emit(w.partial)
			w.partial = w.partial[:0]
		} else {
			w.emit(data[:i])
		}
		data = data[i+1:]
	}

	for len(w.partial) >= maxLineBytes {
		w.emit(w.partial[:maxLineBytes])
		w.partial = append(w.partial[:0], w.partial[maxLineBytes:]...)
	}

	return len(p), nil
}

// Flush logs a trailing line that had no newline
func (w *lineWriter) Flush() {
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = w.partial[:0]
	}
}

func (w *lineWriter) emit(line []byte) {
	w.lines++
	w.logger.LogAttrs(context.Background(), slog.LevelInfo, "Pipeline output",
		slog.String("stream", w.stream),
		slog.String("line", strings.TrimRight(string(line), "\r")),
	)
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	limit     int
	data      []byte
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) {
	if len(p) >= b.limit {
		b.truncated = b.truncated || len(b.data) > 0 || len(p) > b.limit
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		return
	}

	if overflow := len(b.data) + len(p) - b.limit; overflow > 0 {
		b.truncated = true
		b.data = append(b.data[:0], b.data[overflow:]...)
	}
	b.data = append(b.data, p...)
}

// String returns the kept bytes, starting on a rune boundary
func (b *tailBuffer) String() string {
	data := b.data
	if b.truncated {
		for len(data) > 0 && !utf8.RuneStart(data[0]) {
			data = data[1:]
		}
	}

	s := strings.TrimSpace(string(data))
	if b.truncated {
		return "..." + s
	}
	return s
}
