/*
Package pool offers a bounded, generic pool of long-lived resources
such as EPP sessions.

A Pool lends resources to borrowers, creating them through its
Factory while fewer than MaxActive exist, and keeps at most MaxIdle
returned resources for reuse. A borrower finding the pool at capacity
waits up to MaxWait for a resource to be returned or invalidated; the
longest waiting borrower is served first.

An evictor goroutine periodically destroys idle resources which have
outlived AbsoluteTimeout or been idle for IdleTimeout, and replenishes
the idle set up to MinIdle.

All bookkeeping happens under a single mutex. Factory calls, which
perform network I/O, are always made without it held.
*/
package pool
