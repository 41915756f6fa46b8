package codec

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/andaru/epp/xmlutil"
	"github.com/pkg/errors"
)

// Command is an EPP client document.
type Command interface {
	// Name is the command's element name, e.g. "login"
	Name() string
	// Validate checks required fields prior to serialization
	Validate() error
	// EncodeEPP writes the command as the child of the <epp> element
	EncodeEPP(e *Encoder) error
	// ClientTransactionID returns the command's clTRID, or ""
	ClientTransactionID() string
}

// TransactionIDSetter is implemented by commands which carry a
// client transaction id.
type TransactionIDSetter interface {
	SetClientTransactionID(string)
}

// TrID holds a command's client transaction id. Embed it in command
// types to implement the transaction id methods of Command.
type TrID struct {
	ClTRID string
}

func (t *TrID) ClientTransactionID() string       { return t.ClTRID }
func (t *TrID) SetClientTransactionID(id string) { t.ClTRID = id }

// ErrMissingField is wrapped by Validate errors for required fields.
var ErrMissingField = errors.New("missing required field")

func missing(field string) error { return errors.Wrap(ErrMissingField, field) }

// Hello is the <hello> keep-alive request. The server answers with
// its greeting. Hello carries no transaction id.
type Hello struct{}

func (Hello) Name() string                { return "hello" }
func (Hello) Validate() error             { return nil }
func (Hello) ClientTransactionID() string { return "" }

func (Hello) EncodeEPP(e *Encoder) error {
	se := xmlutil.Start("hello")
	if err := e.EncodeToken(se); err != nil {
		return err
	}
	return e.EncodeToken(se.End())
}

// Login opens an authenticated session.
type Login struct {
	TrID
	ClientID    string
	Password    string
	NewPassword string
	// Version defaults to "1.0" and Lang to "en"
	Version       string
	Lang          string
	ObjectURIs    []string
	ExtensionURIs []string
}

func (l *Login) Name() string { return "login" }

func (l *Login) Validate() error {
	switch {
	case l.ClientID == "":
		return missing("clID")
	case l.Password == "":
		return missing("pw")
	case len(l.ObjectURIs) == 0:
		return missing("objURI")
	}
	return nil
}

func (l *Login) EncodeEPP(e *Encoder) error {
	version, lang := l.Version, l.Lang
	if version == "" {
		version = "1.0"
	}
	if lang == "" {
		lang = "en"
	}
	return e.Command(l.ClTRID, "", func() error {
		login := xmlutil.Start("login")
		err := e.EncodeToken(login)
		if err == nil {
			err = e.Text("clID", l.ClientID)
		}
		if err == nil {
			err = e.Text("pw", l.Password)
		}
		if err == nil && l.NewPassword != "" {
			err = e.Text("newPW", l.NewPassword)
		}
		if err == nil {
			err = e.EncodeToken(seOptions)
		}
		if err == nil {
			err = e.Text("version", version)
		}
		if err == nil {
			err = e.Text("lang", lang)
		}
		if err == nil {
			err = e.EncodeToken(seOptions.End())
		}
		if err == nil {
			err = e.EncodeToken(seSvcs)
		}
		for _, uri := range l.ObjectURIs {
			if err != nil {
				break
			}
			err = e.Text("objURI", uri)
		}
		if err == nil && len(l.ExtensionURIs) > 0 {
			err = e.EncodeToken(seSvcExtension)
			for _, uri := range l.ExtensionURIs {
				if err != nil {
					break
				}
				err = e.Text("extURI", uri)
			}
			if err == nil {
				err = e.EncodeToken(seSvcExtension.End())
			}
		}
		if err == nil {
			err = e.EncodeToken(seSvcs.End())
		}
		if err == nil {
			err = e.EncodeToken(login.End())
		}
		return err
	})
}

// Logout ends the session. The server answers 1500 and closes the
// connection.
type Logout struct {
	TrID
}

func (l *Logout) Name() string    { return "logout" }
func (l *Logout) Validate() error { return nil }

func (l *Logout) EncodeEPP(e *Encoder) error {
	return e.Command(l.ClTRID, "", func() error {
		se := xmlutil.Start("logout")
		if err := e.EncodeToken(se); err != nil {
			return err
		}
		return e.EncodeToken(se.End())
	})
}

// PollOp is the poll command operation.
type PollOp string

const (
	// PollRequest retrieves the oldest queued service message
	PollRequest PollOp = "req"
	// PollAck acknowledges (dequeues) the message MsgID
	PollAck PollOp = "ack"
)

// Poll requests or acknowledges service messages.
type Poll struct {
	TrID
	Op    PollOp
	MsgID string
}

func (p *Poll) Name() string { return "poll" }

func (p *Poll) Validate() error {
	switch p.Op {
	case PollRequest:
	case PollAck:
		if p.MsgID == "" {
			return missing("msgID")
		}
	case "":
		return missing("op")
	default:
		return errors.Errorf("unknown poll op %q", p.Op)
	}
	return nil
}

func (p *Poll) EncodeEPP(e *Encoder) error {
	return e.Command(p.ClTRID, "", func() error {
		se := xmlutil.Start("poll", "op", string(p.Op))
		if p.Op == PollAck {
			se = xmlutil.Start("poll", "op", string(p.Op), "msgID", p.MsgID)
		}
		if err := e.EncodeToken(se); err != nil {
			return err
		}
		return e.EncodeToken(se.End())
	})
}

// Raw is a command whose body was serialized elsewhere, e.g. by an
// object mapping layer.
//
// Body is the complete child element of <command>, such as
// <check><domain:check xmlns:domain="...">...</domain:check></check>.
// Extension, if set, is the content of the <extension> element.
type Raw struct {
	TrID
	Body      string
	Extension string
}

// Name returns the local name of the Body's root element.
func (r *Raw) Name() string {
	d := xml.NewDecoder(strings.NewReader(r.Body))
	for {
		tok, err := d.Token()
		if err != nil {
			return "raw"
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local
		}
	}
}

func (r *Raw) Validate() error {
	if strings.TrimSpace(r.Body) == "" {
		return missing("command body")
	}
	if err := wellFormed(r.Body); err != nil {
		return errors.Wrap(err, "command body")
	}
	if r.Extension != "" {
		if err := wellFormed(r.Extension); err != nil {
			return errors.Wrap(err, "extension")
		}
	}
	return nil
}

func (r *Raw) EncodeEPP(e *Encoder) error {
	return e.Command(r.ClTRID, r.Extension, func() error { return e.Raw(r.Body) })
}

// wellFormed checks that s is a balanced XML fragment. Namespace
// prefixes declared on the document root are permitted, so unbound
// prefixes are not an error here.
func wellFormed(s string) error {
	d := xml.NewDecoder(strings.NewReader(s))
	d.Strict = true
	for {
		_, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

var (
	seOptions      = xmlutil.Start("options")
	seSvcs         = xmlutil.Start("svcs")
	seSvcExtension = xmlutil.Start("svcExtension")
)
