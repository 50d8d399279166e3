package docker

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gookit/color"
)

// =============================================================================
// Console
// =============================================================================

// palette is the set of service prefix colours, assigned in order.
var palette = []color.Color{
	color.FgCyan,
	color.FgYellow,
	color.FgGreen,
	color.FgMagenta,
	color.FgBlue,
	color.FgLightCyan,
	color.FgLightYellow,
	color.FgLightGreen,
	color.FgLightMagenta,
	color.FgLightBlue,
}

// Console multiplexes service output onto one writer. Each service gets a
// colour-tagged prefix; writes are serialised.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	assigned map[string]color.Color
	next     int
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, assigned: map[string]color.Color{}}
}

// Assign returns the colour for service, picking the next palette entry the
// first time a service is seen and wrapping once the palette is exhausted.
func (c *Console) Assign(service string) color.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.assigned[service]; ok {
		return col
	}
	col := palette[c.next%len(palette)]
	c.next++
	c.assigned[service] = col
	return col
}

// Sink returns a line sink for service. The prefix is rendered once, so the
// returned func holds no reference to the colour table.
func (c *Console) Sink(service string) func(LogLine) {
	prefix := c.Assign(service).Sprint(service + " |")
	return func(line LogLine) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if line.Stream == StreamStderr {
			fmt.Fprintf(c.out, "%s %s\n", prefix, color.FgRed.Sprint(line.Text))
			return
		}
		fmt.Fprintf(c.out, "%s %s\n", prefix, line.Text)
	}
}

// =============================================================================
// Line Writer
// =============================================================================

// LineWriter splits a byte stream into lines and hands each to a sink.
// A trailing partial line is held until the next write or Flush.
type LineWriter struct {
	service string
	stream  Stream
	sink    func(LogLine)
	buf     bytes.Buffer
}

// NewLineWriter creates a LineWriter for one service stream.
func NewLineWriter(service string, stream Stream, sink func(LogLine)) *LineWriter {
	return &LineWriter{service: service, stream: stream, sink: sink}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line: put it back for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.emit(line)
	}
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line string) {
	if w.sink == nil {
		return
	}
	w.sink(LogLine{
		Service: w.service,
		Stream:  w.stream,
		Text:    strings.TrimRight(line, "\r\n"),
	})
}
