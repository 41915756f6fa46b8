package message

import (
	"github.com/andaru/epp/transport"
)

// Splitter manages the EPP transport session for the message layer.
//
// Its task is to split the session up into a series of EPP documents,
// each carried by exactly one RFC5734 data unit. It provides the
// current document Encoder, replaced with a fresh one once closed,
// and the session's Decoder.
type Splitter struct {
	R *transport.Reader
	W *transport.Writer
	// OnEOF is passed to the Decoder
	OnEOF func()

	dec    *Decoder
	enc    *Encoder
	newEnc bool
}

// Reader returns the session's document decoder.
func (s *Splitter) Reader() *Decoder {
	if s.dec == nil {
		s.dec = &Decoder{D: s.R, OnEOF: s.OnEOF}
	}
	return s.dec
}

// Writer returns the current document's writer (implementing
// io.WriteCloser)
func (s *Splitter) Writer() *Encoder {
	if s.enc == nil || s.newEnc {
		s.enc = &Encoder{E: s.W, OnClosed: s.FinishWriter}
		s.newEnc = false
	}
	return s.enc
}

// FinishWriter emits a new writer on the next call(s) to Writer
func (s *Splitter) FinishWriter() { s.newEnc = true }

// Send writes doc as one document.
func (s *Splitter) Send(doc []byte) error {
	w := s.Writer()
	if _, err := w.Write(doc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
