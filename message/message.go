package message

import (
	"bytes"
	"io"

	"github.com/andaru/epp/transport"
	"github.com/pkg/errors"
)

// Decoder is an EPP document reader.
//
// D must point to an initialized *transport.Reader. OnEOF, if non-nil,
// is called once when the underlying transport sees EOF.
type Decoder struct {
	D      *transport.Reader
	OnEOF  func()
	closed bool
}

// ErrEndOfStream indicates the transport stream has ended.
// This is somewhat equivalent to io.EOF, in that it indicates
// no more documents can be read from the underlying transport due
// to an EOF on said transport.
var ErrEndOfStream = errors.New("end of stream")

// Decode blocks until the next whole document arrives and returns it.
// Framing errors are returned unchanged.
func (d *Decoder) Decode() ([]byte, error) {
	if d.closed {
		return nil, ErrEndOfStream
	}
	doc, err := d.D.ReadMessage()
	if err == io.EOF {
		d.closed = true
		if d.OnEOF != nil {
			d.OnEOF()
			d.OnEOF = nil
		}
		return nil, ErrEndOfStream
	}
	return doc, err
}

// Close closes the decoder. Further calls to Decode return
// ErrEndOfStream.
func (d *Decoder) Close() error {
	d.closed = true
	return nil
}

// Encoder is an EPP document encoder, implementing io.WriteCloser.
//
// Writes are buffered until Close, which emits the buffered document
// as a single data unit.
type Encoder struct {
	E        *transport.Writer
	OnClosed func()
	buf      bytes.Buffer
}

// Write appends b to the current document.
func (e *Encoder) Write(b []byte) (int, error) {
	if e.OnClosed == nil {
		return 0, io.ErrClosedPipe
	}
	return e.buf.Write(b)
}

// Close closes the document, writing it to the underlying transport
// if any data had been written to this encoder.
func (e *Encoder) Close() (err error) {
	if e.OnClosed != nil {
		if e.buf.Len() > 0 {
			_, err = e.E.WriteMessage(e.buf.Bytes())
			e.buf.Reset()
		}
		e.OnClosed()
		e.OnClosed = nil
	}
	return err
}
