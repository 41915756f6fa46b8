package xmlutil

import "encoding/xml"

// XMLName is a shortcut for creating xml.Name, where typically you want at least
// a local name, and perhaps a namespace value as well.
func XMLName(local string, spaces ...string) xml.Name {
	n := xml.Name{Local: local}
	if len(spaces) > 0 {
		n.Space = spaces[0]
	}
	return n
}

// Start returns a start element with the given local name and attributes
// given as name, value pairs. A trailing unpaired name is ignored.
func Start(local string, attrs ...string) xml.StartElement {
	se := xml.StartElement{Name: XMLName(local)}
	for i := 0; i+1 < len(attrs); i += 2 {
		se.Attr = append(se.Attr, xml.Attr{Name: XMLName(attrs[i]), Value: attrs[i+1]})
	}
	return se
}
