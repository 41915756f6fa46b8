package codec

import (
	"bytes"
	"encoding/xml"

	"github.com/andaru/epp/xmlutil"
	"github.com/pkg/errors"
)

const (
	// NamespaceEPP is the EPP 1.0 namespace URI (RFC5730)
	NamespaceEPP = "urn:ietf:params:xml:ns:epp-1.0"
)

// Codec encodes commands to documents and decodes documents received
// from the server.
type Codec interface {
	// Encode validates cmd and returns its serialized document.
	Encode(cmd Command) ([]byte, error)
	// Decode parses doc, returning a *Greeting or a *Response.
	Decode(doc []byte) (Document, error)
}

// Document is a decoded server document, either *Greeting or *Response.
type Document interface {
	document()
}

// XML is the default Codec.
type XML struct {
	// Namespaces are declared on the <epp> root of every encoded
	// document, so Raw command bodies may use their prefixes
	Namespaces xmlutil.PrefixMap
}

// Option is a constructor option for the XML codec
type Option func(*XML)

// WithNamespace declares prefix as an alias of uri on encoded documents.
func WithNamespace(prefix, uri string) Option {
	return func(c *XML) {
		if c.Namespaces == nil {
			c.Namespaces = xmlutil.PrefixMap{}
		}
		c.Namespaces[prefix] = uri
	}
}

// New returns an XML codec configured by opts.
func New(opts ...Option) *XML {
	c := &XML{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Codec = (*XML)(nil)

// Encoder streams an EPP document. It embeds the xml.Encoder used for
// well-formed token output and adds raw passthrough for preformatted
// command XML.
type Encoder struct {
	*xml.Encoder
	buf *bytes.Buffer
}

// Raw flushes pending tokens then writes s verbatim.
func (e *Encoder) Raw(s string) error {
	if err := e.Flush(); err != nil {
		return err
	}
	_, err := e.buf.WriteString(s)
	return err
}

// Text writes <local>value</local>.
func (e *Encoder) Text(local, value string) error {
	se := xmlutil.Start(local)
	if err := e.EncodeToken(se); err != nil {
		return err
	}
	if err := e.EncodeToken(xml.CharData(value)); err != nil {
		return err
	}
	return e.EncodeToken(se.End())
}

// Command writes a <command> element: the output of body, then the
// optional <extension> XML, then the <clTRID> if trID is non-empty.
func (e *Encoder) Command(trID string, extension string, body func() error) error {
	err := e.EncodeToken(seCommand)
	if err == nil {
		err = body()
	}
	if err == nil && extension != "" {
		if err = e.EncodeToken(seExtension); err == nil {
			err = e.Raw(extension)
		}
		if err == nil {
			err = e.EncodeToken(seExtension.End())
		}
	}
	if err == nil && trID != "" {
		err = e.Text("clTRID", trID)
	}
	if err == nil {
		err = e.EncodeToken(seCommand.End())
	}
	return err
}

// Encode validates cmd and serializes it within an <epp> document.
func (c *XML) Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("nil command")
	}
	if err := cmd.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s command", cmd.Name())
	}
	buf := &bytes.Buffer{}
	buf.WriteString(xml.Header)
	e := &Encoder{Encoder: xml.NewEncoder(buf), buf: buf}
	root := xml.StartElement{Name: xmlutil.XMLName("epp", NamespaceEPP), Attr: c.Namespaces.Attr()}
	err := e.EncodeToken(root)
	if err == nil {
		err = cmd.EncodeEPP(e)
	}
	if err == nil {
		err = e.EncodeToken(root.End())
	}
	if err == nil {
		err = e.Flush()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s command", cmd.Name())
	}
	return buf.Bytes(), nil
}

var (
	seCommand   = xmlutil.Start("command")
	seExtension = xmlutil.Start("extension")
)
