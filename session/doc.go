/*
Package session offers an EPP client Session implementation.

A Session owns one transport connection to an EPP server and drives
the ordered command/response conversation over it.

Session lifecycle

Sessions are created using the New function, providing a session
Config. Connect dials the server (see the transport package) and
reads the server's unsolicited greeting, after which Login
authenticates the session. Object URIs default to those advertised
in the greeting, while extension URIs are negotiated: the client's
declared extensions are requested only when the server offers them.

	StatusNew -> StatusConnected -> StatusAuthenticated -> StatusClosed

A session which fails in a way that leaves its stream unusable, or
whose login is refused, moves to StatusError and must be discarded.

Commands

In the default synchronous mode, Send writes a command and blocks
for its response. In asynchronous mode, SendAsync writes a command
and returns at once; the response is collected by a later call to
Read. At most one command may be in flight. Read compares the
client transaction id echoed by the server with the one sent and
fails with an epperr.KindTransactionMismatch error if they differ.

Read with no command in flight is a usage error unless the session
is configured with LenientRead, in which case it blocks for the next
document the server sends.

Cancellation

Commands cannot be abandoned mid-flight. If the context passed to a
blocking read is cancelled, the session closes its connection and
the read fails; the session must then be discarded.

A Session is not safe for concurrent use, other than its Touch,
CreatedAt, LastTouchedAt, Status and Close methods.
*/
package session
