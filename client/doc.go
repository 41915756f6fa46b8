// Package client composes pools of EPP sessions.
//
// A Client owns one pool for the base endpoint of its configuration
// and one for each named system. Sessions are borrowed from a system's
// pool, used for any number of commands, and returned, or invalidated
// when a command fails in a way that leaves the session unusable:
//
//	s, err := c.Borrow(ctx, "ote")
//	if err != nil {
//		return err
//	}
//	resp, err := s.Send(ctx, cmd)
//	if epperr.MustInvalidate(err) {
//		c.Invalidate(s, "ote")
//	} else {
//		c.Return(s, "ote")
//	}
//
// Do wraps this pattern.
package client
