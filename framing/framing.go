package framing

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the data unit length header in octets
	HeaderSize = 4
	// DefaultMaxSize is the largest data unit accepted when no other
	// limit is configured
	DefaultMaxSize = 16 << 20
)

// ErrBadLength reports a data unit header carrying an impossible length.
type ErrBadLength struct {
	Message string
	Length  uint32
}

func (e ErrBadLength) Error() string {
	msg := "epp bad data unit length"
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	return fmt.Sprintf("%s (%d)", msg, e.Length)
}

// SplitLength returns a bufio.SplitFunc suitable for RFC5734 framed
// EPP transport streams. Each token is the XML document of one data
// unit, without its header.
//
// maxSize bounds the total data unit length; values below HeaderSize+1
// select DefaultMaxSize. endOfMessage, if non-nil, is called once per
// complete data unit.
//
// The scanner's buffer must be able to hold maxSize octets.
func SplitLength(maxSize int, endOfMessage func()) bufio.SplitFunc {
	if maxSize <= HeaderSize {
		maxSize = DefaultMaxSize
	}
	return func(b []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(b) == 0 {
			return
		}
		if len(b) < HeaderSize {
			if atEOF {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		length := binary.BigEndian.Uint32(b[:HeaderSize])
		switch {
		case length <= HeaderSize:
			err = ErrBadLength{Message: "no document", Length: length}
			return
		case uint64(length) > uint64(maxSize):
			err = ErrBadLength{Message: fmt.Sprintf("exceeds maximum %d", maxSize), Length: length}
			return
		}
		if len(b) < int(length) {
			if atEOF {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		if endOfMessage != nil {
			endOfMessage()
		}
		return int(length), b[HeaderSize:length], nil
	}
}

// Header returns the data unit header for a document of n octets.
func Header(n int) []byte {
	h := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(h, uint32(n+HeaderSize))
	return h
}

// Write writes doc to w as a single data unit, header included, in one
// call to w.Write. It returns the number of document octets written.
func Write(w io.Writer, doc []byte) (int, error) {
	data := make([]byte, 0, HeaderSize+len(doc))
	data = append(data, Header(len(doc))...)
	data = append(data, doc...)
	n, err := w.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if n -= HeaderSize; n < 0 {
		n = 0
	}
	return n, err
}
