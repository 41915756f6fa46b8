package session

import "strings"

// URIs is a slice of strings denoting EPP object or extension
// namespace URIs
type URIs []string

// Has returns true if uri is in the set
func (u URIs) Has(uri string) bool {
	uri = strings.TrimSpace(uri)
	for _, have := range u {
		if uri == have {
			return true
		}
	}
	return false
}

// mergeExtensions returns the extension URIs to request at login.
// Client declared URIs are kept, in client order, only if the server
// advertised them. If the client declares none, every server
// extension is requested.
func mergeExtensions(client, server URIs) URIs {
	if len(client) == 0 {
		return append(URIs(nil), server...)
	}
	var out URIs
	for _, uri := range client {
		if server.Has(uri) && !out.Has(uri) {
			out = append(out, uri)
		}
	}
	return out
}
