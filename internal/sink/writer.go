package sink

import (
	"fmt"
	"io"
	"sync"
)

// Writer prints "topic sentence" lines, stdout by default. It is always
// connected.
type Writer struct {
	name string

	mu sync.Mutex
	w  io.Writer
}

func NewWriter(name string, w io.Writer) *Writer {
	return &Writer{name: name, w: w}
}

func (w *Writer) Name() string   { return w.name }
func (w *Writer) Connect() error { return nil }
func (w *Writer) Close() error   { return nil }

func (w *Writer) Publish(topic string, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.w, "%s %s\n", topic, payload)
	return err
}
