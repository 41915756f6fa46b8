package epptest

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

const (
	// NamespaceEPP is the EPP 1.0 namespace URI
	NamespaceEPP = "urn:ietf:params:xml:ns:epp-1.0"

	xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>`
)

// Greeting returns a greeting document.
func Greeting(serverID string, objectURIs, extensionURIs []string) []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<epp xmlns="` + NamespaceEPP + `"><greeting>`)
	b.WriteString(`<svID>` + escape(serverID) + `</svID>`)
	b.WriteString(`<svDate>` + time.Now().UTC().Format(time.RFC3339Nano) + `</svDate>`)
	b.WriteString(`<svcMenu><version>1.0</version><lang>en</lang>`)
	for _, uri := range objectURIs {
		b.WriteString(`<objURI>` + escape(uri) + `</objURI>`)
	}
	if len(extensionURIs) > 0 {
		b.WriteString(`<svcExtension>`)
		for _, uri := range extensionURIs {
			b.WriteString(`<extURI>` + escape(uri) + `</extURI>`)
		}
		b.WriteString(`</svcExtension>`)
	}
	b.WriteString(`</svcMenu><dcp><access><all/></access><statement><purpose><admin/><prov/></purpose>`)
	b.WriteString(`<recipient><ours/></recipient><retention><stated/></retention></statement></dcp>`)
	b.WriteString(`</greeting></epp>`)
	return []byte(b.String())
}

// Response returns a response document with a single result. Any
// extra strings are inserted verbatim after the result, and so may
// carry <msgQ>, <resData> or <extension> elements. Empty transaction
// ids are omitted.
func Response(code int, msg, clTRID, svTRID string, extra ...string) []byte {
	var b strings.Builder
	b.WriteString(xmlHeader)
	b.WriteString(`<epp xmlns="` + NamespaceEPP + `"><response>`)
	b.WriteString(`<result code="` + strconv.Itoa(code) + `"><msg>` + escape(msg) + `</msg></result>`)
	for _, x := range extra {
		b.WriteString(x)
	}
	b.WriteString(`<trID>`)
	if clTRID != "" {
		b.WriteString(`<clTRID>` + escape(clTRID) + `</clTRID>`)
	}
	if svTRID != "" {
		b.WriteString(`<svTRID>` + escape(svTRID) + `</svTRID>`)
	}
	b.WriteString(`</trID></response></epp>`)
	return []byte(b.String())
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
