package transport

import (
	"io"

	"github.com/andaru/epp/framing"
)

// Writer is an EPP transport encoder. Each call to WriteMessage emits
// one RFC5734 data unit to the destination.
type Writer struct {
	dst io.WriteCloser
}

// NewWriter returns a new Writer writing to the destination dst.
func NewWriter(dst io.WriteCloser) *Writer { return &Writer{dst: dst} }

// WriteMessage writes doc as a single data unit. It returns the number
// of document octets written, along with any error.
func (w *Writer) WriteMessage(doc []byte) (int, error) { return framing.Write(w.dst, doc) }

// Close closes the underlying writer
func (w *Writer) Close() error { return w.dst.Close() }
