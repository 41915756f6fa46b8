package transport

import (
	"bufio"
	"io"

	"github.com/andaru/epp/framing"
)

// Reader is an EPP transport decoder.
//
// Data sent on the wire is a series of RFC5734 data units, each a
// length header followed by one XML document. The Reader decodes the
// framing and returns whole documents via ReadMessage.
type Reader struct {
	src     io.Reader
	eom     func()
	scanner *bufio.Scanner
	maxSize int
}

// NewReader returns a new Reader given the source io.Reader and a
// function to be called after each document. maxSize limits the size
// of a single data unit; zero selects framing.DefaultMaxSize.
func NewReader(source io.Reader, eomCallback func(), maxSize int) *Reader {
	if source == nil {
		panic("NewReader: source must be non-nil")
	}
	if maxSize <= framing.HeaderSize {
		maxSize = framing.DefaultMaxSize
	}
	return &Reader{src: source, eom: eomCallback, maxSize: maxSize}
}

const (
	readerBufsize = 16 * 1024
)

// setup performs one time scanner setup
func (r *Reader) setup() {
	if r.scanner != nil {
		return
	}
	r.scanner = bufio.NewScanner(r.src)
	r.scanner.Buffer(make([]byte, readerBufsize), r.maxSize)
	r.scanner.Split(framing.SplitLength(r.maxSize, r.eom))
}

// ReadMessage blocks until the next complete document is available
// and returns a copy of it. It returns io.EOF when the stream ends at
// a data unit boundary.
func (r *Reader) ReadMessage() ([]byte, error) {
	r.setup()
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	in := r.scanner.Bytes()
	doc := make([]byte, len(in))
	copy(doc, in)
	return doc, nil
}
