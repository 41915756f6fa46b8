/*
Package epptest provides an in-process EPP server and HTTP CONNECT
proxy for tests, along with helpers to build server documents and
TLS material.

The Server speaks RFC5734 framing over TCP, or TLS when configured
with WithTLS. It greets each connection, answers hello, login,
logout and poll, and acknowledges any other command with result code
1000, echoing the client transaction id. Handlers may be replaced per
command name, and the echoed transaction id can be rewritten to
provoke mismatches.
*/
package epptest
