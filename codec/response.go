package codec

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/pkg/errors"
)

// Greeting is the server's greeting, sent on connect and in answer
// to <hello>.
type Greeting struct {
	ServerID      string
	ServerDate    time.Time
	Versions      []string
	Langs         []string
	ObjectURIs    []string
	ExtensionURIs []string
}

func (*Greeting) document() {}

// Result is one <result> of a response.
type Result struct {
	Code    int
	Message string
	// Lang is the language of Message, if declared
	Lang string
	// Reasons holds the text of any <extValue><reason> elements
	Reasons []string
}

// Success reports whether the result code is in the 1xxx range.
func (r Result) Success() bool { return r.Code >= 1000 && r.Code < 2000 }

// MessageQueue describes the server's service message queue, present
// in responses when messages are queued.
type MessageQueue struct {
	Count   int
	ID      string
	Date    time.Time
	Message string
}

// Response is a server response to a command.
type Response struct {
	Results []Result
	MsgQ    *MessageQueue
	// ResData and Extension hold the inner XML of the <resData>
	// and <extension> elements, for decoding by object mappers
	ResData   string
	Extension string
	ClTRID    string
	SvTRID    string
}

func (*Response) document() {}

// Success reports whether the (first) result signals success.
func (r *Response) Success() bool { return len(r.Results) > 0 && r.Results[0].Success() }

// ResultCode returns the first result code.
func (r *Response) ResultCode() int {
	if len(r.Results) == 0 {
		return 0
	}
	return r.Results[0].Code
}

// ResultMessage returns the first result message.
func (r *Response) ResultMessage() string {
	if len(r.Results) == 0 {
		return ""
	}
	return r.Results[0].Message
}

// ClientTransactionID returns the echoed clTRID, or "".
func (r *Response) ClientTransactionID() string { return r.ClTRID }

// ServerTransactionID returns the server assigned svTRID.
func (r *Response) ServerTransactionID() string { return r.SvTRID }

// Decode parses a server document.
func (c *XML) Decode(doc []byte) (Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, errors.Wrap(err, "parse document")
	}
	epp := xmlquery.QuerySelector(root, xpEPP)
	if epp == nil {
		return nil, errors.New("missing <epp> element")
	}
	for _, n := range children(epp) {
		switch n.Data {
		case "greeting":
			return decodeGreeting(n)
		case "response":
			return decodeResponse(n)
		default:
			return nil, errors.Errorf("unexpected <%s> element", n.Data)
		}
	}
	return nil, errors.New("empty <epp> element")
}

func decodeGreeting(n *xmlquery.Node) (*Greeting, error) {
	g := &Greeting{ServerID: text(child(n, "svID"))}
	if d := text(child(n, "svDate")); d != "" {
		t, err := time.Parse(time.RFC3339Nano, d)
		if err != nil {
			return nil, errors.Wrap(err, "invalid <svDate>")
		}
		g.ServerDate = t
	}
	menu := child(n, "svcMenu")
	if menu == nil {
		return nil, errors.New("missing <svcMenu> element")
	}
	g.Versions = texts(menu, "version")
	g.Langs = texts(menu, "lang")
	g.ObjectURIs = texts(menu, "objURI")
	g.ExtensionURIs = texts(child(menu, "svcExtension"), "extURI")
	if len(g.Versions) == 0 {
		return nil, errors.New("missing <version> element")
	}
	return g, nil
}

func decodeResponse(n *xmlquery.Node) (*Response, error) {
	r := &Response{}
	for _, res := range elements(n, "result") {
		code, err := strconv.Atoi(strings.TrimSpace(res.SelectAttr("code")))
		if err != nil || code < 1000 || code > 2999 {
			return nil, errors.Errorf("invalid result code %q", res.SelectAttr("code"))
		}
		result := Result{Code: code}
		if msg := child(res, "msg"); msg != nil {
			result.Message = text(msg)
			result.Lang = msg.SelectAttr("lang")
		}
		for _, ev := range elements(res, "extValue") {
			if reason := text(child(ev, "reason")); reason != "" {
				result.Reasons = append(result.Reasons, reason)
			}
		}
		r.Results = append(r.Results, result)
	}
	if len(r.Results) == 0 {
		return nil, errors.New("missing <result> element")
	}

	if q := child(n, "msgQ"); q != nil {
		mq := &MessageQueue{ID: q.SelectAttr("id")}
		if count := q.SelectAttr("count"); count != "" {
			v, err := strconv.Atoi(count)
			if err != nil {
				return nil, errors.Errorf("invalid msgQ count %q", count)
			}
			mq.Count = v
		}
		if d := text(child(q, "qDate")); d != "" {
			if t, err := time.Parse(time.RFC3339Nano, d); err == nil {
				mq.Date = t
			}
		}
		mq.Message = text(child(q, "msg"))
		r.MsgQ = mq
	}
	if rd := child(n, "resData"); rd != nil {
		r.ResData = inner(rd)
	}
	if ext := child(n, "extension"); ext != nil {
		r.Extension = inner(ext)
	}

	tr := child(n, "trID")
	if tr == nil {
		return nil, errors.New("missing <trID> element")
	}
	r.ClTRID = text(child(tr, "clTRID"))
	r.SvTRID = text(child(tr, "svTRID"))
	return r, nil
}

// children returns n's element children.
func children(n *xmlquery.Node) (out []*xmlquery.Node) {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// elements returns n's element children with the given local name,
// regardless of namespace prefix.
func elements(n *xmlquery.Node, local string) (out []*xmlquery.Node) {
	for _, c := range children(n) {
		if c.Data == local {
			out = append(out, c)
		}
	}
	return out
}

func child(n *xmlquery.Node, local string) *xmlquery.Node {
	if els := elements(n, local); len(els) > 0 {
		return els[0]
	}
	return nil
}

func text(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

func texts(n *xmlquery.Node, local string) (out []string) {
	for _, c := range elements(n, local) {
		if t := text(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// inner returns the serialized content of n's children.
func inner(n *xmlquery.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			b.WriteString(c.OutputXML(true))
		}
	}
	return b.String()
}

var (
	xpEPP = xpath.MustCompile(`/*[local-name()='epp' and namespace-uri()='` + NamespaceEPP + `']`)
)
