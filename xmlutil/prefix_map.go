package xmlutil

import (
	"encoding/xml"
	"sort"
	"strings"
)

// PrefixMap is a prefix to namespace URI map, used to declare
// extension namespaces once on a document's root element.
type PrefixMap map[string]string

// NewPrefixMap returns a PrefixMap containing the namespace
// declarations found in the passed XML attributes, in either the
// decoded (Space "xmlns") or the literal ("xmlns:prefix") form.
func NewPrefixMap(attrs ...xml.Attr) PrefixMap {
	pmap := PrefixMap{}
	for _, attr := range attrs {
		switch {
		case attr.Name.Space == "xmlns":
			pmap[attr.Name.Local] = attr.Value
		case attr.Name.Space == "" && strings.HasPrefix(attr.Name.Local, "xmlns:"):
			pmap[strings.TrimPrefix(attr.Name.Local, "xmlns:")] = attr.Value
		}
	}
	return pmap
}

// Attr returns the prefix map contents as a series of xmlns:<prefix>=<nsuri>
// attributes, sorted lexically by prefix. The attribute names are literal
// ("xmlns:prefix" with no Space) as xml.Encoder would otherwise treat the
// xmlns space as a namespace URI of its own.
func (m PrefixMap) Attr() (a []xml.Attr) {
	for k, v := range m {
		if k == "" || v == "" {
			continue
		}
		a = append(a, xml.Attr{Name: xml.Name{Local: "xmlns:" + k}, Value: v})
	}
	if len(a) > 0 {
		sort.Slice(a, func(i int, j int) bool { return a[i].Name.Local < a[j].Name.Local })
	}
	return a
}

// Namespace returns the namespace URI for the given prefix
func (m PrefixMap) Namespace(prefix string) string { return m[prefix] }

// Prefix returns any prefixes found for the namespace URI, sorted
func (m PrefixMap) Prefix(nsURI string) (pfxes []string) {
	for k, v := range m {
		if nsURI == v {
			pfxes = append(pfxes, k)
		}
	}
	sort.Strings(pfxes)
	return pfxes
}
