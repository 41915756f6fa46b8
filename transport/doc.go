/*
Package transport provides the EPP transport layer.

The transport layer provides "clean" document Reader and Writer
interfaces to respectively decode and encode RFC5734 framed traffic
for the underlying byte stream. The message layer reads and writes
to these transport layer objects.

The Dialer establishes the byte stream itself: a TCP connection,
optionally bound to a local source address, optionally tunneled
through one of a list of HTTP CONNECT or SOCKS5 proxies, and
optionally secured with TLS using a client certificate.
*/
package transport
