/*
Package epp is a set of Extensible Provisioning Protocol (RFC5730)
client libraries.

The transport packages carry XML documents over TCP, optionally
through HTTP CONNECT or SOCKS5 proxies and TLS, using the RFC5734
length prefixed framing. The session package drives one EPP session
from greeting through login, commands and logout. The pool package
keeps bounded sets of logged in sessions, evicting those idle or aged
past their limits, and the client package composes one pool per
configured registry system.

See cmd/eppctl for a small client application built from these
libraries.
*/
package epp
